package events

import (
	"context"

	"github.com/reel-study/backend/internal/models"
)

// Query filters a single-table read.
type Query struct {
	ParticipantID string
	Limit         int
	// Ascending orders oldest first; the default is newest first.
	Ascending bool
}

// Store persists events into per-condition tables.
type Store interface {
	Insert(ctx context.Context, table string, ev *models.Event) error
	InsertMany(ctx context.Context, table string, evs []*models.Event) (int, error)
	Find(ctx context.Context, table string, q Query) ([]models.Event, error)
	GroupByParticipant(ctx context.Context, table string) ([]models.ParticipantGroup, error)
	Ping(ctx context.Context) error
}

// Publisher fans a stored event out to live listeners.
type Publisher interface {
	PublishEvent(ctx context.Context, ev *models.Event) error
}
