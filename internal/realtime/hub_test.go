package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reel-study/backend/internal/models"
	"github.com/reel-study/backend/internal/tracker"
)

type memSink struct {
	mu   sync.Mutex
	list []string
}

func (s *memSink) Emit(_ context.Context, name string, _ tracker.Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, name)
	return nil
}

func (s *memSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.list...)
}

type fakeFeedBus struct {
	mu        sync.Mutex
	handlers  map[string]func(event string, payload []byte)
	cancelled []string
}

func (b *fakeFeedBus) SubscribeFeed(feed string, handler func(event string, payload []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]func(string, []byte){}
	}
	b.handlers[feed] = handler
	return func() {
		b.mu.Lock()
		b.cancelled = append(b.cancelled, feed)
		b.mu.Unlock()
	}, nil
}

func (b *fakeFeedBus) PublishFeedEvent(condition, event string, payload []byte) error {
	b.mu.Lock()
	targets := []func(string, []byte){b.handlers[condition], b.handlers[AllConditions]}
	b.mu.Unlock()
	for _, h := range targets {
		if h != nil {
			h(event, payload)
		}
	}
	return nil
}

func testClient(id, feed string) *Client {
	return &Client{ID: id, Feed: feed, send: make(chan WSMessage, 4)}
}

func TestHubLocalBroadcastByCondition(t *testing.T) {
	h := NewHub(nil, nil, nil)
	reel := testClient("a", "reel_video")
	feed := testClient("b", "feed_video")
	all := testClient("c", AllConditions)
	h.Register(reel)
	h.Register(feed)
	h.Register(all)

	require.NoError(t, h.PublishEvent(context.Background(), &models.Event{EventName: "reel_video_start", Condition: "reel_video"}))

	require.Len(t, reel.send, 1)
	assert.Len(t, feed.send, 0)
	require.Len(t, all.send, 1)
	msg := <-reel.send
	assert.Equal(t, EventStored, msg.Event)
	var ev models.Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "reel_video_start", ev.EventName)
}

func TestHubPublishesThroughRedisWhenConfigured(t *testing.T) {
	bus := &fakeFeedBus{}
	h := NewHub(nil, bus, bus)
	c := testClient("a", "feed_carousel")
	h.Register(c)
	assert.Equal(t, 1, h.Listeners("feed_carousel"))

	require.NoError(t, h.PublishEvent(context.Background(), &models.Event{EventName: "x", Condition: "feed_carousel"}))
	assert.Len(t, c.send, 1)

	h.Unregister(c)
	assert.Equal(t, 0, h.Listeners("feed_carousel"))
	assert.Equal(t, []string{"feed_carousel"}, bus.cancelled)
}

func TestHubDropsWhenClientBufferFull(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := &Client{ID: "slow", Feed: "reel_video", send: make(chan WSMessage)}
	h.Register(c)
	assert.NoError(t, h.PublishEvent(context.Background(), &models.Event{Condition: "reel_video"}))
}

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "study:events:reel_video", channelFor("reel_video"))
	assert.Equal(t, "study:events:*", channelFor(AllConditions))
}
