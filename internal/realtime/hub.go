package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/reel-study/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	// AllConditions is the feed key of listeners that want every condition.
	AllConditions = "*"

	// EventStored is the live feed event for a persisted study event.
	EventStored = "event"
)

// FeedPublisher publishes to Redis for cross-instance broadcast.
type FeedPublisher interface {
	PublishFeedEvent(condition, event string, payload []byte) error
}

// FeedSubscriber subscribes to feed channels and invokes handler for incoming events.
type FeedSubscriber interface {
	SubscribeFeed(feed string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains feed -> set of live connections and broadcasts stored events to them.
// With Redis configured, events are published only and the subscription delivers them,
// so every instance (this one included) broadcasts exactly once.
type Hub struct {
	feeds  map[string]map[string]*Client
	subs   map[string]func()
	mu     sync.RWMutex
	logger *zap.Logger
	pub    FeedPublisher
	sub    FeedSubscriber
}

// NewHub creates a new live feed hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub FeedPublisher, sub FeedSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		feeds:  make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a client to its feed. Starts the Redis subscription for the feed if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.feeds[c.Feed] == nil {
		h.feeds[c.Feed] = make(map[string]*Client)
		if h.sub != nil {
			feed := c.Feed
			cancel, err := h.sub.SubscribeFeed(feed, func(event string, payload []byte) {
				h.broadcastLocal(feed, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("feed subscription failed", zap.String("feed", feed), zap.Error(err))
			} else {
				h.subs[feed] = cancel
			}
		}
	}
	h.feeds[c.Feed][c.ID] = c
	h.logger.Debug("live client joined", zap.String("client_id", c.ID), zap.String("feed", c.Feed))
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.feeds[c.Feed]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.feeds, c.Feed)
			if cancel, ok := h.subs[c.Feed]; ok {
				cancel()
				delete(h.subs, c.Feed)
			}
		}
	}
	h.logger.Debug("live client left", zap.String("client_id", c.ID), zap.String("feed", c.Feed))
}

// Listeners returns the number of clients on feed.
func (h *Hub) Listeners(feed string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.feeds[feed])
}

// PublishEvent fans a stored event out to the feed of its condition and to AllConditions.
func (h *Hub) PublishEvent(_ context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if h.pub != nil {
		return h.pub.PublishFeedEvent(ev.Condition, EventStored, data)
	}
	h.broadcastLocal(ev.Condition, EventStored, json.RawMessage(data))
	h.broadcastLocal(AllConditions, EventStored, json.RawMessage(data))
	return nil
}

// broadcastLocal sends to clients of feed on this instance. A full client buffer drops the message.
func (h *Hub) broadcastLocal(feed, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.feeds[feed] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("live client buffer full", zap.String("client_id", c.ID))
		}
	}
}
