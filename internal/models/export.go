package models

import (
	"time"

	"github.com/google/uuid"
)

// ExportStatus is the lifecycle of an export job.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "queued"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusCompleted  ExportStatus = "completed"
	ExportStatusFailed     ExportStatus = "failed"
)

// Export describes a condition dump uploaded to object storage.
type Export struct {
	ID            uuid.UUID    `json:"id"`
	Condition     string       `json:"condition"`
	ParticipantID string       `json:"participant_id,omitempty"`
	Status        ExportStatus `json:"status"`
	EventCount    int          `json:"event_count"`
	S3Key         string       `json:"s3_key,omitempty"`
	DownloadURL   string       `json:"download_url,omitempty"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
