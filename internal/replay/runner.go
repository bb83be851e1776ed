package replay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reel-study/backend/internal/tracker"
)

// Options controls pacing and logging of a replay.
type Options struct {
	// Speed scales real-time pacing between steps; 0 replays as fast as possible.
	Speed  float64
	Start  time.Time
	Logger *zap.Logger
}

// Emitted is one event the tracker produced, stamped with script time.
type Emitted struct {
	At    time.Duration
	Name  string
	Props tracker.Properties
	Err   error
}

// Report summarizes a replay.
type Report struct {
	Events    []Emitted
	Commands  []string
	Session   tracker.WatchSession
	State     tracker.State
	Finalized bool
}

// Names returns the emitted event names in order.
func (r *Report) Names() []string {
	names := make([]string, len(r.Events))
	for i, e := range r.Events {
		names[i] = e.Name
	}
	return names
}

type teeSink struct {
	next  tracker.Sink
	clock *virtualClock
	start time.Time

	mu     sync.Mutex
	events []Emitted
}

func (s *teeSink) Emit(ctx context.Context, name string, props tracker.Properties) error {
	var err error
	if s.next != nil {
		err = s.next.Emit(ctx, name, props)
	}
	s.mu.Lock()
	s.events = append(s.events, Emitted{At: s.clock.Now().Sub(s.start), Name: name, Props: props, Err: err})
	s.mu.Unlock()
	return err
}

// Run replays script against a fresh tracker that reports to sink. The page is closed
// after the last step, which finalizes the session if nothing did before.
func Run(ctx context.Context, script *Script, sink tracker.Sink, opts Options) (*Report, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}

	clock := newVirtualClock(start)
	player := newScriptedPlayer(clock, script.Duration, script.Muted)
	tee := &teeSink{next: sink, clock: clock, start: start}
	tr := tracker.New(tracker.Config{
		Condition:     script.Condition,
		MediaID:       script.MediaID,
		ParticipantID: script.ParticipantID,
		PollInterval:  time.Duration(script.PollIntervalMs) * time.Millisecond,
		FinalizeOnEnd: script.finalizeOnEnd(),
	}, tee, tracker.WithClock(clock), tracker.WithLogger(logger))
	lc := tracker.NewLifecycle(tr, time.Duration(script.AutoEnableDelayMs)*time.Millisecond, logger)
	if script.AutoEnable {
		lc.AutoEnable()
	}

	var elapsed time.Duration
	for _, step := range script.Steps {
		if err := pace(ctx, step.offset()-elapsed, opts.Speed); err != nil {
			tr.Finalize()
			return report(tr, player, tee), err
		}
		elapsed = step.offset()
		clock.AdvanceTo(start.Add(elapsed))
		apply(ctx, step, tr, lc, player, logger)
	}
	if tr.Finalize() {
		logger.Debug("page closed after last step")
	}
	return report(tr, player, tee), nil
}

func apply(ctx context.Context, step Step, tr *tracker.Tracker, lc *tracker.Lifecycle, player *ScriptedPlayer, logger *zap.Logger) {
	switch step.Action {
	case ActionAttach:
		player.attach()
		a, err := tracker.Locate(ctx, func() (tracker.Adapter, bool) { return player, player.isAttached() }, 0, 1)
		if err != nil {
			logger.Warn("attach failed", zap.Error(err))
			return
		}
		tr.Attach(a)
	case ActionReady:
		player.markReady()
	case ActionTap:
		lc.Gesture()
	case ActionPlay:
		player.transition(tracker.PlayerPlaying, step.Position)
	case ActionPause:
		player.transition(tracker.PlayerPaused, step.Position)
	case ActionEnd:
		player.transition(tracker.PlayerEnded, step.Position)
	case ActionSeek:
		player.seek(step.Position)
	case ActionMuteToggle:
		if _, err := tr.ToggleMute(); err != nil {
			logger.Warn("mute toggle failed", zap.Error(err))
		}
	case ActionSignal:
		sig, _ := tracker.ParseSignal(step.Signal)
		lc.Signal(sig)
	}
}

func pace(ctx context.Context, d time.Duration, speed float64) error {
	if speed <= 0 || d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(float64(d) / speed))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func report(tr *tracker.Tracker, player *ScriptedPlayer, tee *teeSink) *Report {
	tee.mu.Lock()
	evs := append([]Emitted(nil), tee.events...)
	tee.mu.Unlock()
	return &Report{
		Events:    evs,
		Commands:  player.Commands(),
		Session:   tr.Snapshot(),
		State:     tr.State(),
		Finalized: tr.Finalized(),
	}
}
