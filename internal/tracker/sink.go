package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Properties is the property bag attached to an emitted event.
type Properties map[string]interface{}

// Sink forwards named events to the persistence boundary.
type Sink interface {
	Emit(ctx context.Context, name string, props Properties) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, name string, props Properties) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, name string, props Properties) error {
	return f(ctx, name, props)
}

const defaultEmitTimeout = 10 * time.Second

type pendingEvent struct {
	name  string
	props Properties
}

// AsyncSink queues events for a background goroutine so Emit never blocks the caller.
// A full buffer drops the event; failures of the wrapped sink are logged and discarded.
type AsyncSink struct {
	next    Sink
	logger  *zap.Logger
	timeout time.Duration
	queue   chan pendingEvent
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts a worker draining into next. Call Close to flush and stop it.
func NewAsyncSink(next Sink, buffer int, logger *zap.Logger) *AsyncSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	s := &AsyncSink{
		next:    next,
		logger:  logger,
		timeout: defaultEmitTimeout,
		queue:   make(chan pendingEvent, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit enqueues the event. It returns nil even when the event is dropped.
func (s *AsyncSink) Emit(_ context.Context, name string, props Properties) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("event dropped, sink closed", zap.String("event", name))
		return nil
	}
	select {
	case s.queue <- pendingEvent{name: name, props: props}:
	default:
		s.logger.Warn("event dropped, sink buffer full", zap.String("event", name))
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Emit(ctx, ev.name, ev.props); err != nil {
			s.logger.Warn("emit event failed", zap.String("event", ev.name), zap.Error(err))
		}
		cancel()
	}
}
