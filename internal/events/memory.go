package events

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/reel-study/backend/internal/models"
)

// MemoryStore keeps events in process. It backs offline replays and tests.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string][]models.Event
	// Err, when set, fails every call.
	Err error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]models.Event)}
}

func (m *MemoryStore) Insert(_ context.Context, table string, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if !knownTable(table) {
		return ErrUnknownCondition
	}
	m.tables[table] = append(m.tables[table], *ev)
	return nil
}

func (m *MemoryStore) InsertMany(ctx context.Context, table string, evs []*models.Event) (int, error) {
	for i, ev := range evs {
		if err := m.Insert(ctx, table, ev); err != nil {
			return i, err
		}
	}
	return len(evs), nil
}

func (m *MemoryStore) Find(_ context.Context, table string, q Query) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	list := lo.Filter(m.tables[table], func(ev models.Event, _ int) bool {
		return q.ParticipantID == "" || ev.ParticipantID == q.ParticipantID
	})
	sort.SliceStable(list, func(i, j int) bool {
		if q.Ascending {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	if q.Limit > 0 && len(list) > q.Limit {
		list = list[:q.Limit]
	}
	return list, nil
}

func (m *MemoryStore) GroupByParticipant(_ context.Context, table string) ([]models.ParticipantGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	byParticipant := lo.GroupBy(m.tables[table], func(ev models.Event) string { return ev.ParticipantID })
	groups := make([]models.ParticipantGroup, 0, len(byParticipant))
	for pid, evs := range byParticipant {
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp.After(evs[j].Timestamp) })
		groups = append(groups, models.ParticipantGroup{
			ParticipantID: pid,
			EventCount:    len(evs),
			Events: lo.Map(evs, func(ev models.Event, _ int) models.GroupedEvent {
				return models.GroupedEvent{EventName: ev.EventName, Timestamp: ev.Timestamp, Properties: ev.Properties}
			}),
			FirstEvent: evs[len(evs)-1].Timestamp,
			LastEvent:  evs[0].Timestamp,
		})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].LastEvent.After(groups[j].LastEvent) })
	return groups, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// All returns a copy of every event in table, in insertion order.
func (m *MemoryStore) All(table string) []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Event(nil), m.tables[table]...)
}
