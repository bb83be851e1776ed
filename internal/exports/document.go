package exports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reel-study/backend/internal/events"
	"github.com/reel-study/backend/internal/models"
)

// MaxEvents caps how many events one export reads.
const MaxEvents = 100000

// Document is the JSON file written for an export.
type Document struct {
	ExportID      string         `json:"export_id"`
	Condition     string         `json:"condition"`
	Collection    string         `json:"collection"`
	ParticipantID string         `json:"participant_id"`
	ExportedAt    time.Time      `json:"exported_at"`
	Count         int            `json:"count"`
	Events        []models.Event `json:"events"`
}

// Build reads the events selected by exp in chronological order and encodes them.
func Build(ctx context.Context, svc *events.Service, exp *models.Export, now time.Time) (*Document, []byte, error) {
	list, table, err := svc.ParticipantEvents(ctx, exp.ParticipantID, exp.Condition, MaxEvents)
	if err != nil {
		return nil, nil, fmt.Errorf("read events: %w", err)
	}
	participant := exp.ParticipantID
	if participant == "" {
		participant = "all"
	}
	doc := &Document{
		ExportID:      exp.ID.String(),
		Condition:     exp.Condition,
		Collection:    table,
		ParticipantID: participant,
		ExportedAt:    now.UTC(),
		Count:         len(list),
		Events:        list,
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode export: %w", err)
	}
	return doc, body, nil
}
