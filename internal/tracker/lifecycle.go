package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Signal is a page lifecycle notification.
type Signal int

const (
	SignalPageHide Signal = iota
	SignalBeforeUnload
	SignalVisibilityHidden
	SignalVisibilityVisible
)

func (s Signal) String() string {
	switch s {
	case SignalPageHide:
		return "pagehide"
	case SignalBeforeUnload:
		return "beforeunload"
	case SignalVisibilityHidden:
		return "visibility_hidden"
	case SignalVisibilityVisible:
		return "visibility_visible"
	default:
		return "unknown"
	}
}

// Teardown reports whether the signal ends the session.
func (s Signal) Teardown() bool {
	return s == SignalPageHide || s == SignalBeforeUnload || s == SignalVisibilityHidden
}

// ParseSignal maps a wire name to a Signal.
func ParseSignal(name string) (Signal, bool) {
	switch name {
	case "pagehide":
		return SignalPageHide, true
	case "beforeunload":
		return SignalBeforeUnload, true
	case "visibility_hidden", "hidden":
		return SignalVisibilityHidden, true
	case "visibility_visible", "visible":
		return SignalVisibilityVisible, true
	}
	return 0, false
}

// DefaultAutoEnableDelay is used when no gesture affordance exists.
const DefaultAutoEnableDelay = time.Second

// Lifecycle gates tracking behind a gesture and finalizes the tracker on teardown.
type Lifecycle struct {
	tracker         *Tracker
	autoEnableDelay time.Duration
	logger          *zap.Logger
}

// NewLifecycle wires lifecycle signals to t.
func NewLifecycle(t *Tracker, autoEnableDelay time.Duration, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoEnableDelay <= 0 {
		autoEnableDelay = DefaultAutoEnableDelay
	}
	return &Lifecycle{tracker: t, autoEnableDelay: autoEnableDelay, logger: logger}
}

// Gesture enables tracking, as a tap on the start overlay does.
func (l *Lifecycle) Gesture() {
	l.tracker.Enable()
}

// AutoEnable schedules Enable after the auto-enable delay on the tracker's clock.
func (l *Lifecycle) AutoEnable() Timer {
	return l.tracker.clock.AfterFunc(l.autoEnableDelay, l.tracker.Enable)
}

// Signal handles one lifecycle signal. Teardown signals finalize; the tracker's guard makes
// repeated or overlapping signals harmless.
func (l *Lifecycle) Signal(sig Signal) {
	if !sig.Teardown() {
		l.logger.Debug("lifecycle signal ignored", zap.Stringer("signal", sig))
		return
	}
	if l.tracker.Finalize() {
		l.logger.Info("session finalized", zap.Stringer("signal", sig))
	}
}

// Run dispatches gestures and signals until ctx is done, then finalizes. A nil gestures
// channel means there is no gesture affordance and tracking is enabled after the delay.
func (l *Lifecycle) Run(ctx context.Context, gestures <-chan struct{}, signals <-chan Signal) {
	if gestures == nil {
		timer := l.AutoEnable()
		defer timer.Stop()
	}
	for {
		select {
		case <-ctx.Done():
			if l.tracker.Finalize() {
				l.logger.Info("session finalized", zap.String("signal", "context_done"))
			}
			return
		case _, ok := <-gestures:
			if !ok {
				gestures = nil
				continue
			}
			l.Gesture()
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			l.Signal(sig)
		}
	}
}
