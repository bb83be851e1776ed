package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is one stored behavioral event. JSON names match the documents the study
// frontend and analysis scripts already read.
type Event struct {
	ID            uuid.UUID              `json:"_id"`
	EventName     string                 `json:"event_name"`
	ParticipantID string                 `json:"participant_id"`
	StudyType     string                 `json:"study_type"`
	Condition     string                 `json:"condition"`
	Timestamp     time.Time              `json:"timestamp"`
	Properties    map[string]interface{} `json:"properties"`
	SessionID     *string                `json:"session_id"`
	UserAgent     *string                `json:"user_agent"`
	PageURL       *string                `json:"page_url"`
	IPAddress     *string                `json:"ip_address"`
	// Collection is set when results from several condition tables are merged.
	Collection string `json:"_collection,omitempty"`
}

// GroupedEvent is the reduced event shape inside a participant group.
type GroupedEvent struct {
	EventName  string                 `json:"event_name"`
	Timestamp  time.Time              `json:"timestamp"`
	Properties map[string]interface{} `json:"properties"`
}

// ParticipantGroup aggregates one participant's events in a condition.
type ParticipantGroup struct {
	ParticipantID string         `json:"participant_id"`
	EventCount    int            `json:"event_count"`
	Events        []GroupedEvent `json:"events"`
	FirstEvent    time.Time      `json:"first_event"`
	LastEvent     time.Time      `json:"last_event"`
}
