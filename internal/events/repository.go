package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reel-study/backend/internal/models"
)

// Repository handles event persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func tableIdent(table string) (string, error) {
	if !knownTable(table) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCondition, table)
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

const insertColumns = `id, event_name, participant_id, study_type, condition, timestamp, properties, session_id, user_agent, page_url, ip_address`

func insertArgs(ev *models.Event) []interface{} {
	props := ev.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	return []interface{}{ev.ID, ev.EventName, ev.ParticipantID, ev.StudyType, ev.Condition, ev.Timestamp,
		props, ev.SessionID, ev.UserAgent, ev.PageURL, ev.IPAddress}
}

// Insert stores one event.
func (r *Repository) Insert(ctx context.Context, table string, ev *models.Event) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + ident + ` (` + insertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, query, insertArgs(ev)...)
	return err
}

// InsertMany stores events in one round trip and returns how many rows were written.
func (r *Repository) InsertMany(ctx context.Context, table string, evs []*models.Event) (int, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return 0, err
	}
	query := `INSERT INTO ` + ident + ` (` + insertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	batch := &pgx.Batch{}
	for _, ev := range evs {
		batch.Queue(query, insertArgs(ev)...)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	inserted := 0
	for range evs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("batch insert into %s: %w", table, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// Find returns events from table ordered by timestamp.
func (r *Repository) Find(ctx context.Context, table string, q Query) ([]models.Event, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return nil, err
	}
	order := "DESC"
	if q.Ascending {
		order = "ASC"
	}
	query := `SELECT ` + insertColumns + ` FROM ` + ident + `
		WHERE ($1 = '' OR participant_id = $1)
		ORDER BY timestamp ` + order + `
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, q.ParticipantID, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.EventName, &ev.ParticipantID, &ev.StudyType, &ev.Condition, &ev.Timestamp,
			&ev.Properties, &ev.SessionID, &ev.UserAgent, &ev.PageURL, &ev.IPAddress); err != nil {
			return nil, err
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}

// GroupByParticipant aggregates table per participant, most recently active first.
func (r *Repository) GroupByParticipant(ctx context.Context, table string) ([]models.ParticipantGroup, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return nil, err
	}
	query := `SELECT participant_id, COUNT(*),
			json_agg(json_build_object('event_name', event_name, 'timestamp', timestamp, 'properties', properties)
				ORDER BY timestamp DESC),
			MIN(timestamp), MAX(timestamp)
		FROM ` + ident + `
		GROUP BY participant_id
		ORDER BY MAX(timestamp) DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.ParticipantGroup
	for rows.Next() {
		var g models.ParticipantGroup
		if err := rows.Scan(&g.ParticipantID, &g.EventCount, &g.Events, &g.FirstEvent, &g.LastEvent); err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
