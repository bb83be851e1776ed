// Package tracker reconciles media player notifications into watch-session metrics
// and reports them through a Sink.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config fixes the identity of a tracker instance.
type Config struct {
	// Condition is the study arm; it prefixes event names and tags every event.
	Condition     string
	MediaID       string
	ParticipantID string
	// PollInterval is the milestone poll period while playing. Defaults to one second.
	PollInterval time.Duration
	// FinalizeOnEnd emits the summary as soon as the media ends naturally.
	FinalizeOnEnd bool
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock and scheduler.
func WithClock(c Clock) Option { return func(t *Tracker) { t.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithLegacySink routes the duplicate summary to a second sink.
func WithLegacySink(s Sink) Option { return func(t *Tracker) { t.legacy = s } }

type outbound struct {
	sink  Sink
	name  string
	props Properties
}

// Tracker is the watch-session state machine. It is safe for use from the goroutines
// that deliver player notifications, poll ticks and lifecycle signals.
type Tracker struct {
	cfg    Config
	sink   Sink
	legacy Sink
	clock  Clock
	logger *zap.Logger

	mu           sync.Mutex
	player       Player
	unsubscribe  func()
	ready        bool
	state        State
	session      WatchSession
	lastPosition float64
	finalized    bool
	pollTimer    Timer
	pollGen      uint64
}

// New creates a tracker in the Idle state. The page load time is stamped now.
func New(cfg Config, sink Sink, opts ...Option) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	t := &Tracker{
		cfg:    cfg,
		sink:   sink,
		clock:  SystemClock,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.legacy == nil {
		t.legacy = sink
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.With(zap.String("condition", cfg.Condition))
	t.session = newWatchSession(t.clock.Now())
	return t
}

// Attach binds the tracker to an adapter and subscribes to its notifications.
// An adapter that already knows its duration is treated as ready.
func (t *Tracker) Attach(a Adapter) {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	t.player = a
	t.mu.Unlock()

	unsubscribe := a.Subscribe(t.Handle)
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()

	if d, err := a.Duration(); err == nil {
		t.Handle(Notification{State: PlayerReady, Duration: d})
	}
}

// Detach drops the adapter subscription.
func (t *Tracker) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns a copy of the session metrics.
func (t *Tracker) Snapshot() WatchSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.clone()
}

// Finalized reports whether the summary has been produced.
func (t *Tracker) Finalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalized
}

// Enable moves Idle to Armed and asks the player to unmute and play.
// When the player is not ready yet the start is deferred until Ready arrives.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session.TrackingEnabled || t.finalized {
		return
	}
	t.session.TrackingEnabled = true
	t.state = StateArmed
	t.logger.Info("tracking enabled")
	if !t.ready {
		t.logger.Warn("player not ready, start deferred")
		return
	}
	t.startPlaybackLocked()
}

// OnStateChange feeds one player state change at the given media position.
func (t *Tracker) OnStateChange(state PlayerState, positionSeconds float64) {
	t.Handle(Notification{State: state, Position: positionSeconds})
}

// Handle applies a notification. It is the subscription callback given to the adapter.
func (t *Tracker) Handle(n Notification) {
	t.mu.Lock()
	out := t.handleLocked(n)
	t.mu.Unlock()
	t.flush(out)
}

// PollMilestones checks the current position against the milestones. It does nothing
// unless the session is playing.
func (t *Tracker) PollMilestones() {
	t.mu.Lock()
	out := t.pollLocked()
	t.mu.Unlock()
	t.flush(out)
}

// Finalize closes open segments and emits the summary. Only the first call has an effect;
// it reports whether this call was that one.
func (t *Tracker) Finalize() bool {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return false
	}
	out := t.finalizeLocked()
	t.mu.Unlock()
	t.flush(out)
	return true
}

// ToggleMute flips the player's mute state and returns the new state.
func (t *Tracker) ToggleMute() (muted bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready || t.player == nil {
		return false, ErrPlayerNotReady
	}
	t.stampInteractionLocked(t.clock.Now())

	muted, err = t.player.IsMuted()
	if err != nil {
		return false, fmt.Errorf("query mute state: %w", err)
	}
	if !muted {
		if err := t.player.Mute(); err != nil {
			return false, fmt.Errorf("mute: %w", err)
		}
		return true, nil
	}
	if err := t.player.Unmute(); err != nil {
		return true, fmt.Errorf("unmute: %w", err)
	}
	if !t.session.Unmuted {
		t.recordUnmuteLocked(t.bestPositionLocked())
	}
	return false, nil
}

func (t *Tracker) handleLocked(n Notification) []outbound {
	if t.finalized {
		return nil
	}
	if n.State == PlayerReady {
		t.readyLocked(n)
		return nil
	}
	if !t.session.TrackingEnabled {
		t.logger.Debug("notification ignored, tracking disabled", zap.Stringer("state", n.State))
		return nil
	}

	now := t.clock.Now()
	pos := t.clampLocked(n.Position)
	t.lastPosition = pos

	switch n.State {
	case PlayerPlaying:
		return t.playingLocked(now, pos)
	case PlayerPaused:
		return t.pausedLocked(now, pos)
	case PlayerEnded:
		return t.endedLocked(pos)
	}
	return nil
}

func (t *Tracker) readyLocked(n Notification) {
	d := n.Duration
	if d <= 0 && t.player != nil {
		if pd, err := t.player.Duration(); err == nil {
			d = pd
		}
	}
	if d > 0 {
		t.session.Duration = d
	}
	wasReady := t.ready
	t.ready = t.player != nil
	t.logger.Info("player ready", zap.Float64("duration", t.session.Duration))
	if !t.ready {
		return
	}

	if muted, err := t.player.IsMuted(); err != nil {
		t.logger.Warn("query mute state failed", zap.Error(err))
	} else if muted {
		if err := t.player.Unmute(); err != nil {
			t.logger.Warn("unmute on ready failed", zap.Error(err))
		}
	}
	if !wasReady && t.session.TrackingEnabled && t.state == StateArmed {
		t.startPlaybackLocked()
	}
}

func (t *Tracker) startPlaybackLocked() {
	if err := t.player.Unmute(); err != nil {
		t.logger.Warn("unmute on start failed", zap.Error(err))
	}
	if err := t.player.Play(); err != nil {
		t.logger.Warn("play on start failed", zap.Error(err))
		return
	}
	t.logger.Debug("playback requested")
}

func (t *Tracker) playingLocked(now time.Time, pos float64) []outbound {
	s := &t.session
	t.stampInteractionLocked(now)

	if t.state == StatePlaying {
		// Repeated Playing: resync the segment without counting a new play.
		t.closeSegmentLocked(pos)
		s.CurrentPlaySegmentStart = &pos
		s.observe(pos)
		return nil
	}

	s.closePause(now)
	t.ensureUnmutedLocked(pos)

	var out []outbound
	if s.SessionStartTime == nil {
		start := now
		s.SessionStartTime = &start
		out = append(out, outbound{sink: t.sink, name: t.eventName("start"), props: t.startProps()})
	}

	s.PlayCount++
	s.CurrentPlaySegmentStart = &pos
	s.observe(pos)
	t.state = StatePlaying
	t.startPollLocked()
	t.logger.Debug("playing", zap.Float64("position", pos), zap.Int("play_count", s.PlayCount))
	return out
}

func (t *Tracker) pausedLocked(now time.Time, pos float64) []outbound {
	s := &t.session
	t.stampInteractionLocked(now)
	if t.state == StatePaused {
		return nil
	}

	s.PauseCount++
	pauseStart := now
	s.PauseWallClockStart = &pauseStart
	t.stopPollLocked()
	t.state = StatePaused
	s.observe(pos)

	if !t.closeSegmentLocked(pos) {
		return nil
	}
	t.logger.Debug("paused", zap.Float64("total_watch_seconds", s.TotalWatchTimeSeconds))
	return []outbound{{sink: t.sink, name: t.eventName("watch_time"), props: t.watchTimeProps()}}
}

func (t *Tracker) endedLocked(pos float64) []outbound {
	s := &t.session
	if t.state == StateEnded {
		return nil
	}
	t.closeSegmentLocked(pos)
	s.CompletionCount++
	s.observe(pos)
	t.stopPollLocked()
	t.state = StateEnded

	out := t.milestonesLocked(pos)
	out = append(out, outbound{sink: t.sink, name: t.eventName("complete"), props: t.completeProps()})
	t.logger.Info("media ended", zap.Float64("total_watch_seconds", s.TotalWatchTimeSeconds))

	if t.cfg.FinalizeOnEnd {
		out = append(out, t.finalizeLocked()...)
	}
	return out
}

func (t *Tracker) pollLocked() []outbound {
	if t.finalized || !t.session.TrackingEnabled || t.state != StatePlaying || t.player == nil {
		return nil
	}
	pos, err := t.player.CurrentTime()
	if err != nil {
		t.logger.Debug("milestone poll skipped", zap.Error(err))
		return nil
	}
	pos = t.clampLocked(pos)
	t.lastPosition = pos
	t.session.observe(pos)
	return t.milestonesLocked(pos)
}

func (t *Tracker) milestonesLocked(pos float64) []outbound {
	s := &t.session
	progress := 0
	if s.Duration > 0 {
		progress = int(roundTo(pos/s.Duration*100, 0))
	}
	var out []outbound
	for _, m := range Milestones {
		if progress < m || s.hasMilestone(m) {
			continue
		}
		s.MilestonesReached[m] = struct{}{}
		out = append(out, outbound{sink: t.sink, name: t.eventName("progress"), props: t.progressProps(m, pos)})
		t.logger.Info("milestone reached", zap.Int("milestone", m))
	}
	return out
}

// startPollLocked schedules the milestone poll. Each schedule carries a generation so a tick
// that raced a stop cannot revive an old poll.
func (t *Tracker) startPollLocked() {
	t.stopPollLocked()
	gen := t.pollGen
	t.pollTimer = t.clock.AfterFunc(t.cfg.PollInterval, func() { t.pollTick(gen) })
}

func (t *Tracker) stopPollLocked() {
	if t.pollTimer != nil {
		t.pollTimer.Stop()
		t.pollTimer = nil
	}
	t.pollGen++
}

func (t *Tracker) pollTick(gen uint64) {
	t.mu.Lock()
	if gen != t.pollGen || t.state != StatePlaying || t.finalized {
		t.mu.Unlock()
		return
	}
	out := t.pollLocked()
	t.pollTimer = t.clock.AfterFunc(t.cfg.PollInterval, func() { t.pollTick(gen) })
	t.mu.Unlock()
	t.flush(out)
}

func (t *Tracker) finalizeLocked() []outbound {
	if t.finalized {
		return nil
	}
	t.finalized = true
	t.stopPollLocked()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}

	s := &t.session
	if !s.TrackingEnabled {
		t.logger.Info("session finalized without consent, no summary")
		return nil
	}
	if s.SessionStartTime == nil {
		t.logger.Info("session finalized before playback started, no summary")
		return nil
	}
	now := t.clock.Now()
	if s.CurrentPlaySegmentStart != nil {
		pos := t.bestPositionLocked()
		t.closeSegmentLocked(pos)
		s.observe(pos)
	}
	s.closePause(now)
	end := now
	s.SessionEndTime = &end

	summary := t.summaryProps()
	t.logger.Info("session finalized",
		zap.Float64("total_watch_seconds", s.TotalWatchTimeSeconds),
		zap.Int("play_count", s.PlayCount),
		zap.Int("discarded_segments", s.DiscardedSegments),
	)
	return []outbound{
		{sink: t.sink, name: SummaryEvent, props: summary},
		{sink: t.legacy, name: t.eventName("summary"), props: summary.clone()},
	}
}

func (t *Tracker) closeSegmentLocked(pos float64) bool {
	closed, delta := t.session.closeSegment(pos)
	if closed && delta < 0 {
		t.logger.Debug("negative segment delta discarded",
			zap.Float64("delta", delta),
			zap.Int("discarded_segments", t.session.DiscardedSegments),
		)
	}
	return closed
}

func (t *Tracker) ensureUnmutedLocked(pos float64) {
	if t.player == nil {
		return
	}
	muted, err := t.player.IsMuted()
	if err != nil {
		t.logger.Warn("query mute state failed", zap.Error(err))
		return
	}
	if muted {
		if err := t.player.Unmute(); err != nil {
			t.logger.Warn("unmute on play failed", zap.Error(err))
			return
		}
	}
	if !t.session.Unmuted {
		t.recordUnmuteLocked(pos)
	}
}

func (t *Tracker) recordUnmuteLocked(pos float64) {
	t.session.Unmuted = true
	at := pos
	t.session.UnmutedAtSecond = &at
}

func (t *Tracker) stampInteractionLocked(now time.Time) {
	if t.session.FirstInteractionTime == nil {
		at := now
		t.session.FirstInteractionTime = &at
	}
}

// bestPositionLocked asks the player for the position and falls back to the last one seen.
func (t *Tracker) bestPositionLocked() float64 {
	if t.ready && t.player != nil {
		if pos, err := t.player.CurrentTime(); err == nil {
			return t.clampLocked(pos)
		}
	}
	return t.lastPosition
}

func (t *Tracker) clampLocked(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if d := t.session.Duration; d > 0 && pos > d {
		return d
	}
	return pos
}

func (t *Tracker) flush(out []outbound) {
	for _, ev := range out {
		t.emit(ev)
	}
}

func (t *Tracker) emit(ev outbound) {
	if ev.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("sink panicked", zap.String("event", ev.name), zap.Any("panic", r))
		}
	}()
	if err := ev.sink.Emit(context.Background(), ev.name, ev.props); err != nil {
		t.logger.Warn("emit event failed", zap.String("event", ev.name), zap.Error(err))
	}
}
