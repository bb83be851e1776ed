package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reel-study/backend/internal/events"
	"github.com/reel-study/backend/internal/tracker"
	"github.com/reel-study/backend/pkg/response"
)

// Session message events.
const (
	MsgPlayerAttached = "player_attached"
	MsgReady          = "ready"
	MsgState          = "state"
	MsgTick           = "tick"
	MsgTap            = "tap"
	MsgMuteToggle     = "mute_toggle"
	MsgLifecycle      = "lifecycle"

	MsgCommand   = "command"
	MsgMuteState = "mute_state"
	MsgSession   = "session"
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errSessionClosed  = errors.New("session closed")
)

// SessionOptions configures hosted watch sessions.
type SessionOptions struct {
	DefaultCondition string
	DefaultMediaID   string
	PollInterval     time.Duration
	AutoEnableDelay  time.Duration
	AttachInterval   time.Duration
	AttachAttempts   int
	FinalizeOnEnd    bool
	SinkBuffer       int
}

type readyPayload struct {
	Duration float64 `json:"duration"`
	Muted    bool    `json:"muted"`
}

type statePayload struct {
	State    string  `json:"state"`
	Position float64 `json:"position"`
}

type tickPayload struct {
	Position float64 `json:"position"`
	Muted    bool    `json:"muted"`
}

type lifecyclePayload struct {
	Signal string `json:"signal"`
}

// session is one hosted watch session bound to a page connection.
type session struct {
	id        string
	player    *RemotePlayer
	tracker   *tracker.Tracker
	gestures  chan struct{}
	signals   chan tracker.Signal
	send      chan WSMessage
	logger    *zap.Logger
	autoStart bool

	mu     sync.Mutex
	closed bool
}

// SessionGroup owns the hosted sessions of one server. Shutdown finalizes them all and waits
// for their events to be stored; hijacked connections are not covered by http.Server.Shutdown.
type SessionGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewSessionGroup returns an open group.
func NewSessionGroup() *SessionGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionGroup{ctx: ctx, cancel: cancel}
}

// Shutdown ends every session in the group and waits until they are closed or ctx is done.
func (g *SessionGroup) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join registers a session. It reports false once the group is shutting down.
func (g *SessionGroup) join() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	g.wg.Add(1)
	return true
}

// ServeSession handles GET /ws/session. Each connection hosts one watch session; the page
// reports player state and the server drives the tracker and stores its events. Dropping the
// connection or shutting down the group finalizes the session.
func ServeSession(group *SessionGroup, svc *events.Service, opts SessionOptions, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if !group.join() {
			response.ServiceUnavailable(c, "Server is shutting down")
			return
		}
		defer group.wg.Done()

		condition := c.DefaultQuery("condition", opts.DefaultCondition)
		if condition == "" {
			response.BadRequest(c, "condition is required")
			return
		}
		sessionID := c.Query("session_id")
		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		envelope := tracker.Envelope{
			ParticipantID: c.Query("participant_id"),
			StudyType:     condition,
			SessionID:     sessionID,
			PageURL:       c.Query("page_url"),
		}
		meta := events.RequestMetadata(c)
		autoStart, _ := strconv.ParseBool(c.Query("auto_enable"))

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		log := logger.With(zap.String("session_id", sessionID), zap.String("condition", condition))
		sink := tracker.NewAsyncSink(events.NewRecorder(svc, envelope, meta), opts.SinkBuffer, log)
		s := &session{
			id:        sessionID,
			gestures:  make(chan struct{}, 1),
			signals:   make(chan tracker.Signal, 4),
			send:      make(chan WSMessage, 64),
			logger:    log,
			autoStart: autoStart,
		}
		s.player = NewRemotePlayer(func(action string) error {
			return s.push(MsgCommand, gin.H{"action": action})
		})
		s.tracker = tracker.New(tracker.Config{
			Condition:     condition,
			MediaID:       c.DefaultQuery("media_id", opts.DefaultMediaID),
			ParticipantID: envelope.ParticipantID,
			PollInterval:  opts.PollInterval,
			FinalizeOnEnd: opts.FinalizeOnEnd,
		}, sink, tracker.WithLogger(log))

		go writePump(conn, s.send, log)
		_ = s.push(MsgSession, gin.H{"session_id": sessionID})

		ctx, cancel := context.WithCancel(group.ctx)
		// Unblock the read loop when the group shuts down.
		stopRead := context.AfterFunc(ctx, func() { _ = conn.UnderlyingConn().Close() })
		done := make(chan struct{})
		go func() {
			defer close(done)
			var gestures <-chan struct{} = s.gestures
			if s.autoStart {
				gestures = nil
			}
			tracker.NewLifecycle(s.tracker, opts.AutoEnableDelay, log).Run(ctx, gestures, s.signals)
		}()
		var attaching sync.WaitGroup
		attaching.Add(1)
		go func() {
			defer attaching.Done()
			s.attach(ctx, opts)
		}()

		log.Info("watch session opened")
		_ = conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		})
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
			s.dispatch(msg)
		}

		stopRead()
		cancel()
		attaching.Wait()
		<-done
		s.tracker.Detach()
		sink.Close()
		s.closeSend()
		log.Info("watch session closed", zap.Stringer("state", s.tracker.State()))
	}
}

// attach waits for the page to announce its player, then binds the tracker to it.
func (s *session) attach(ctx context.Context, opts SessionOptions) {
	a, err := tracker.Locate(ctx, func() (tracker.Adapter, bool) {
		return s.player, s.player.Attached()
	}, opts.AttachInterval, opts.AttachAttempts)
	if err != nil {
		s.logger.Warn("player not attached, session will not track", zap.Error(err))
		return
	}
	s.tracker.Attach(a)
	s.logger.Debug("player attached")
}

func (s *session) dispatch(msg WSMessage) {
	switch msg.Event {
	case MsgPlayerAttached:
		s.player.MarkAttached()
	case MsgReady:
		var p readyPayload
		if s.decode(msg, &p) {
			s.player.MarkReady(p.Duration, p.Muted)
		}
	case MsgState:
		var p statePayload
		if !s.decode(msg, &p) {
			return
		}
		state, ok := tracker.ParsePlayerState(p.State)
		if !ok {
			s.logger.Debug("unknown player state", zap.String("state", p.State))
			return
		}
		s.player.ReportState(state, p.Position)
	case MsgTick:
		var p tickPayload
		if s.decode(msg, &p) {
			s.player.ReportTick(p.Position, p.Muted)
		}
	case MsgTap:
		select {
		case s.gestures <- struct{}{}:
		default:
		}
	case MsgMuteToggle:
		muted, err := s.tracker.ToggleMute()
		reply := gin.H{"muted": muted}
		if err != nil {
			s.logger.Warn("mute toggle failed", zap.Error(err))
			reply["error"] = err.Error()
		}
		_ = s.push(MsgMuteState, reply)
	case MsgLifecycle:
		var p lifecyclePayload
		if !s.decode(msg, &p) {
			return
		}
		sig, ok := tracker.ParseSignal(p.Signal)
		if !ok {
			s.logger.Debug("unknown lifecycle signal", zap.String("signal", p.Signal))
			return
		}
		select {
		case s.signals <- sig:
		default:
			s.tracker.Finalize()
		}
	default:
		s.logger.Debug("ignoring session message", zap.String("event", msg.Event))
	}
}

func (s *session) decode(msg WSMessage, v interface{}) bool {
	if len(msg.Data) == 0 {
		s.logger.Debug("empty session message", zap.String("event", msg.Event))
		return false
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.logger.Debug("malformed session message", zap.String("event", msg.Event), zap.Error(err))
		return false
	}
	return true
}

// push queues a message for the page without blocking.
func (s *session) push(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.send <- WSMessage{Event: event, Data: data}:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
