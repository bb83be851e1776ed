package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/reel-study/backend/internal/models"
	"github.com/reel-study/backend/internal/tracker"
)

// DefaultListLimit and DefaultParticipantLimit apply when a query gives no positive limit.
const (
	DefaultListLimit        = 10
	DefaultParticipantLimit = 100
)

// Metadata is request context stamped onto incoming events.
type Metadata struct {
	UserAgent string
	IPAddress string
}

// Service routes events to condition tables and reads them back.
type Service struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a service. publisher may be nil.
func NewService(store Store, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, publisher: publisher, logger: logger, now: time.Now}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewEvent builds the stored document for req, applying defaults and routing fields.
func (s *Service) NewEvent(req tracker.TrackRequest, meta Metadata) *models.Event {
	props := map[string]interface{}(req.Properties)
	if props == nil {
		props = map[string]interface{}{}
	}
	participant := req.ParticipantID
	if participant == "" {
		participant = AnonymousParticipant
	}
	studyType := req.StudyType
	if studyType == "" {
		studyType = UnknownValue
	}
	return &models.Event{
		ID:            uuid.New(),
		EventName:     req.EventName,
		ParticipantID: participant,
		StudyType:     studyType,
		Condition:     ConditionOf(req.StudyType, req.Properties),
		Timestamp:     s.now().UTC(),
		Properties:    props,
		SessionID:     optional(req.SessionID),
		UserAgent:     optional(meta.UserAgent),
		PageURL:       optional(req.PageURL),
		IPAddress:     optional(meta.IPAddress),
	}
}

// Track stores one event and returns it with its id and table.
func (s *Service) Track(ctx context.Context, req tracker.TrackRequest, meta Metadata) (*models.Event, string, error) {
	ev := s.NewEvent(req, meta)
	table := CollectionFor(req.StudyType, ev.Condition)
	if err := s.store.Insert(ctx, table, ev); err != nil {
		return nil, table, fmt.Errorf("insert event: %w", err)
	}
	s.logger.Info("event tracked",
		zap.String("event_name", ev.EventName),
		zap.String("collection", table),
		zap.String("event_id", ev.ID.String()))
	s.publish(ctx, ev)
	return ev, table, nil
}

// TrackBatch groups events by destination table and inserts each group in one round trip.
func (s *Service) TrackBatch(ctx context.Context, reqs []tracker.TrackRequest, meta Metadata) (int, error) {
	docs := lo.Map(reqs, func(r tracker.TrackRequest, _ int) *models.Event { return s.NewEvent(r, meta) })
	byTable := lo.GroupBy(docs, func(ev *models.Event) string { return CollectionFor(ev.StudyType, ev.Condition) })

	tables := lo.Keys(byTable)
	sort.Strings(tables)
	total := 0
	for _, table := range tables {
		n, err := s.store.InsertMany(ctx, table, byTable[table])
		total += n
		if err != nil {
			return total, fmt.Errorf("insert batch: %w", err)
		}
		s.logger.Info("batch tracked", zap.Int("count", n), zap.String("collection", table))
	}
	for _, ev := range docs {
		s.publish(ctx, ev)
	}
	return total, nil
}

func (s *Service) publish(ctx context.Context, ev *models.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_id", ev.ID.String()), zap.Error(err))
	}
}

// Recent returns the newest events of one condition table.
func (s *Service) Recent(ctx context.Context, condition, participantID string, limit int) ([]models.Event, string, error) {
	table := CollectionFor("", condition)
	list, err := s.store.Find(ctx, table, Query{ParticipantID: participantID, Limit: positive(limit, DefaultListLimit)})
	if err != nil {
		return nil, table, err
	}
	return orEmpty(list), table, nil
}

// RecentAll merges the newest events of every condition table, newest first, truncated to limit.
func (s *Service) RecentAll(ctx context.Context, participantID string, limit int) ([]models.Event, error) {
	limit = positive(limit, DefaultListLimit)
	merged, err := s.collect(ctx, Query{ParticipantID: participantID, Limit: limit})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp.After(merged[j].Timestamp) })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// ParticipantEvents returns one participant's events in chronological order.
func (s *Service) ParticipantEvents(ctx context.Context, participantID, condition string, limit int) ([]models.Event, string, error) {
	q := Query{ParticipantID: participantID, Limit: positive(limit, DefaultParticipantLimit), Ascending: true}
	if condition != "" {
		table := CollectionFor("", condition)
		list, err := s.store.Find(ctx, table, q)
		if err != nil {
			return nil, table, err
		}
		return orEmpty(list), table, nil
	}
	merged, err := s.collect(ctx, q)
	if err != nil {
		return nil, "", err
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	return merged, "", nil
}

// ByParticipant groups a condition table per participant.
func (s *Service) ByParticipant(ctx context.Context, condition string) ([]models.ParticipantGroup, string, error) {
	table := CollectionFor("", condition)
	groups, err := s.store.GroupByParticipant(ctx, table)
	if err != nil {
		return nil, table, err
	}
	if groups == nil {
		groups = []models.ParticipantGroup{}
	}
	return groups, table, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// collect reads q from every condition table and tags each event with its source.
func (s *Service) collect(ctx context.Context, q Query) ([]models.Event, error) {
	merged := []models.Event{}
	for _, cond := range Conditions() {
		table := Collections[cond]
		list, err := s.store.Find(ctx, table, q)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
		for i := range list {
			list[i].Collection = table
		}
		merged = append(merged, list...)
	}
	return merged, nil
}

func positive(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}

func orEmpty(list []models.Event) []models.Event {
	if list == nil {
		return []models.Event{}
	}
	return list
}
