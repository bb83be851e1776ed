package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reel-study/backend/internal/models"
	"github.com/reel-study/backend/internal/tracker"
)

type stubPublisher struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (p *stubPublisher) PublishEvent(_ context.Context, ev *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, ev.EventName)
	return p.err
}

// steppingClock returns a time one second later on every call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestService(pub Publisher) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store, pub, nil)
	svc.now = steppingClock()
	return svc, store
}

func TestCollectionFor(t *testing.T) {
	assert.Equal(t, "reel_video_events", CollectionFor("", "reel_video"))
	assert.Equal(t, "feed_carousel_events", CollectionFor("feed_carousel", "custom"))
	assert.Equal(t, "reel_carousel_events", CollectionFor("feed_video", "reel_carousel"))
	assert.Equal(t, DefaultCollection, CollectionFor("pilot", "pilot"))
	assert.Equal(t, DefaultCollection, CollectionFor("", ""))
}

func TestConditionOf(t *testing.T) {
	assert.Equal(t, "reel_video", ConditionOf("feed_video", tracker.Properties{"condition": "reel_video"}))
	assert.Equal(t, "feed_video", ConditionOf("feed_video", tracker.Properties{"condition": ""}))
	assert.Equal(t, "feed_video", ConditionOf("feed_video", nil))
	assert.Equal(t, UnknownValue, ConditionOf("", tracker.Properties{"condition": 3}))
}

func TestConditionsSorted(t *testing.T) {
	assert.Equal(t, []string{"feed_carousel", "feed_video", "reel_carousel", "reel_video"}, Conditions())
}

func TestTrackAppliesDefaultsAndRoutes(t *testing.T) {
	pub := &stubPublisher{}
	svc, store := newTestService(pub)

	ev, table, err := svc.Track(context.Background(), tracker.TrackRequest{
		EventName:  "reel_video_start",
		Properties: tracker.Properties{"condition": "reel_video", "video_duration": 60.0},
	}, Metadata{UserAgent: "Mozilla/5.0", IPAddress: "10.0.0.7"})
	require.NoError(t, err)

	assert.Equal(t, "reel_video_events", table)
	assert.Equal(t, AnonymousParticipant, ev.ParticipantID)
	assert.Equal(t, UnknownValue, ev.StudyType)
	assert.Equal(t, "reel_video", ev.Condition)
	assert.Nil(t, ev.SessionID)
	require.NotNil(t, ev.IPAddress)
	assert.Equal(t, "10.0.0.7", *ev.IPAddress)

	stored := store.All("reel_video_events")
	require.Len(t, stored, 1)
	assert.Equal(t, ev.ID, stored[0].ID)
	assert.Equal(t, []string{"reel_video_start"}, pub.seen)
}

func TestTrackUnknownConditionFallsBack(t *testing.T) {
	svc, store := newTestService(nil)
	_, table, err := svc.Track(context.Background(), tracker.TrackRequest{EventName: "x", StudyType: "pilot"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCollection, table)
	assert.Len(t, store.All(DefaultCollection), 1)
}

func TestTrackStoreFailure(t *testing.T) {
	svc, store := newTestService(nil)
	store.Err = errors.New("db down")
	_, _, err := svc.Track(context.Background(), tracker.TrackRequest{EventName: "x"}, Metadata{})
	assert.ErrorContains(t, err, "db down")
}

func TestTrackIgnoresPublishFailure(t *testing.T) {
	svc, store := newTestService(&stubPublisher{err: errors.New("redis gone")})
	_, _, err := svc.Track(context.Background(), tracker.TrackRequest{EventName: "x"}, Metadata{})
	require.NoError(t, err)
	assert.Len(t, store.All(DefaultCollection), 1)
}

func TestTrackBatchGroupsByTable(t *testing.T) {
	svc, store := newTestService(nil)
	n, err := svc.TrackBatch(context.Background(), []tracker.TrackRequest{
		{EventName: "a", StudyType: "feed_video"},
		{EventName: "b", Properties: tracker.Properties{"condition": "reel_carousel"}},
		{EventName: "c", StudyType: "feed_video"},
		{EventName: "d"},
		{EventName: "e", StudyType: "feed_video", Properties: tracker.Properties{"condition": "pilot"}},
	}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, store.All("feed_video_events"), 3)
	assert.Len(t, store.All("reel_carousel_events"), 1)
	assert.Len(t, store.All(DefaultCollection), 1)
}

func seed(t *testing.T, svc *Service, reqs ...tracker.TrackRequest) {
	t.Helper()
	for _, r := range reqs {
		_, _, err := svc.Track(context.Background(), r, Metadata{})
		require.NoError(t, err)
	}
}

func TestRecentAllMergesNewestFirst(t *testing.T) {
	svc, _ := newTestService(nil)
	seed(t, svc,
		tracker.TrackRequest{EventName: "e1", StudyType: "reel_video", ParticipantID: "p1"},
		tracker.TrackRequest{EventName: "e2", StudyType: "feed_video", ParticipantID: "p1"},
		tracker.TrackRequest{EventName: "e3", StudyType: "reel_video", ParticipantID: "p2"},
		tracker.TrackRequest{EventName: "e4", StudyType: "feed_carousel", ParticipantID: "p1"},
	)

	list, err := svc.RecentAll(context.Background(), "p1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e4", list[0].EventName)
	assert.Equal(t, "feed_carousel_events", list[0].Collection)
	assert.Equal(t, "e2", list[1].EventName)

	list, err = svc.RecentAll(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestParticipantEventsChronological(t *testing.T) {
	svc, _ := newTestService(nil)
	seed(t, svc,
		tracker.TrackRequest{EventName: "e1", StudyType: "reel_video", ParticipantID: "p1"},
		tracker.TrackRequest{EventName: "e2", StudyType: "feed_video", ParticipantID: "p1"},
		tracker.TrackRequest{EventName: "e3", StudyType: "reel_video", ParticipantID: "p1"},
	)

	list, table, err := svc.ParticipantEvents(context.Background(), "p1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, table)
	assert.Equal(t, []string{"e1", "e2", "e3"}, names(list))

	list, table, err = svc.ParticipantEvents(context.Background(), "p1", "reel_video", 0)
	require.NoError(t, err)
	assert.Equal(t, "reel_video_events", table)
	assert.Equal(t, []string{"e1", "e3"}, names(list))
}

func TestByParticipantGroups(t *testing.T) {
	svc, _ := newTestService(nil)
	seed(t, svc,
		tracker.TrackRequest{EventName: "e1", StudyType: "reel_video", ParticipantID: "p1"},
		tracker.TrackRequest{EventName: "e2", StudyType: "reel_video", ParticipantID: "p2"},
		tracker.TrackRequest{EventName: "e3", StudyType: "reel_video", ParticipantID: "p1"},
	)
	groups, table, err := svc.ByParticipant(context.Background(), "reel_video")
	require.NoError(t, err)
	assert.Equal(t, "reel_video_events", table)
	require.Len(t, groups, 2)
	assert.Equal(t, "p1", groups[0].ParticipantID)
	assert.Equal(t, 2, groups[0].EventCount)
	assert.Equal(t, "e3", groups[0].Events[0].EventName)
	assert.True(t, groups[0].FirstEvent.Before(groups[0].LastEvent))
}

func TestRecorderStoresTrackerEvents(t *testing.T) {
	svc, store := newTestService(nil)
	rec := NewRecorder(svc, tracker.Envelope{ParticipantID: "p7", StudyType: "reel_video", SessionID: "s1"}, Metadata{UserAgent: "ua"})

	require.NoError(t, rec.Emit(context.Background(), "reel_video_complete", tracker.Properties{"condition": "reel_video"}))

	stored := store.All("reel_video_events")
	require.Len(t, stored, 1)
	assert.Equal(t, "p7", stored[0].ParticipantID)
	require.NotNil(t, stored[0].SessionID)
	assert.Equal(t, "s1", *stored[0].SessionID)
}

func names(list []models.Event) []string {
	out := make([]string, len(list))
	for i, ev := range list {
		out[i] = ev.EventName
	}
	return out
}
