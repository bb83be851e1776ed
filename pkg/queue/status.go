package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reel-study/backend/internal/models"
)

// ErrExportNotFound is returned when no status is stored for an export id.
var ErrExportNotFound = errors.New("export not found")

// StatusTTL bounds how long export records stay readable.
const StatusTTL = 7 * 24 * time.Hour

func statusKey(id uuid.UUID) string {
	return "study:export:" + id.String()
}

// StatusStore keeps export job state in Redis so API and worker processes share it.
type StatusStore struct {
	client *redis.Client
}

// NewStatusStore returns a store backed by client.
func NewStatusStore(client *redis.Client) *StatusStore {
	return &StatusStore{client: client}
}

// Save writes exp, stamping UpdatedAt.
func (s *StatusStore) Save(ctx context.Context, exp *models.Export) error {
	exp.UpdatedAt = time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = exp.UpdatedAt
	}
	raw, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := s.client.Set(ctx, statusKey(exp.ID), raw, StatusTTL).Err(); err != nil {
		return fmt.Errorf("save export status: %w", err)
	}
	return nil
}

// Get loads the export with id.
func (s *StatusStore) Get(ctx context.Context, id uuid.UUID) (*models.Export, error) {
	raw, err := s.client.Get(ctx, statusKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExportNotFound
		}
		return nil, fmt.Errorf("load export status: %w", err)
	}
	var exp models.Export
	if err := json.Unmarshal(raw, &exp); err != nil {
		return nil, fmt.Errorf("decode export status: %w", err)
	}
	return &exp, nil
}
