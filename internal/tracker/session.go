package tracker

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// State is the tracker's view of the watch session.
type State int

const (
	StateIdle State = iota
	StateArmed
	StatePlaying
	StatePaused
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Milestones are the progress percentages reported at most once per session.
var Milestones = []int{25, 50, 75, 100}

// completionThreshold is the share of the media that counts as watched to the end.
const completionThreshold = 0.95

// WatchSession holds the metrics of one page load.
type WatchSession struct {
	TrackingEnabled bool

	TotalWatchTimeSeconds float64
	TotalPauseTimeSeconds float64

	// CurrentPlaySegmentStart is the media position where the open play segment began.
	CurrentPlaySegmentStart *float64
	PauseWallClockStart     *time.Time

	PlayCount       int
	PauseCount      int
	CompletionCount int

	MilestonesReached  map[int]struct{}
	MaxProgressReached float64

	Unmuted         bool
	UnmutedAtSecond *float64

	FirstInteractionTime *time.Time
	PageLoadTime         time.Time
	SessionStartTime     *time.Time
	SessionEndTime       *time.Time

	Duration float64

	// DiscardedSegments counts segments closed with a negative delta (seek back, buffering reset).
	DiscardedSegments int
}

func newWatchSession(pageLoad time.Time) WatchSession {
	return WatchSession{
		MilestonesReached: make(map[int]struct{}),
		PageLoadTime:      pageLoad,
	}
}

// closeSegment closes the open play segment at pos. Only a positive delta is added.
// It reports whether a segment was open and the delta that was observed.
func (s *WatchSession) closeSegment(pos float64) (closed bool, delta float64) {
	if s.CurrentPlaySegmentStart == nil {
		return false, 0
	}
	delta = pos - *s.CurrentPlaySegmentStart
	if delta > 0 {
		s.TotalWatchTimeSeconds += delta
	} else if delta < 0 {
		s.DiscardedSegments++
	}
	s.CurrentPlaySegmentStart = nil
	return true, delta
}

func (s *WatchSession) closePause(now time.Time) {
	if s.PauseWallClockStart == nil {
		return
	}
	if d := now.Sub(*s.PauseWallClockStart).Seconds(); d > 0 {
		s.TotalPauseTimeSeconds += d
	}
	s.PauseWallClockStart = nil
}

func (s *WatchSession) observe(pos float64) {
	if pos > s.MaxProgressReached {
		s.MaxProgressReached = pos
	}
}

func (s WatchSession) hasMilestone(m int) bool {
	_, ok := s.MilestonesReached[m]
	return ok
}

// MilestoneList returns the reached milestones in ascending order.
func (s WatchSession) MilestoneList() []int {
	list := lo.Keys(s.MilestonesReached)
	sort.Ints(list)
	return list
}

// CompletionRate is watched/duration as a percentage, capped at 100.
func (s WatchSession) CompletionRate() int {
	if s.Duration <= 0 {
		return 0
	}
	return min(100, int(roundTo(s.TotalWatchTimeSeconds/s.Duration*100, 0)))
}

// VideoCompleted is true after an Ended notification or when the high-water mark passed 95%.
func (s WatchSession) VideoCompleted() bool {
	if s.CompletionCount > 0 {
		return true
	}
	return s.Duration > 0 && s.MaxProgressReached >= s.Duration*completionThreshold
}

// Replayed is true when playback started more than once.
func (s WatchSession) Replayed() bool {
	return s.PlayCount > 1
}

func (s WatchSession) clone() WatchSession {
	out := s
	out.MilestonesReached = make(map[int]struct{}, len(s.MilestonesReached))
	for m := range s.MilestonesReached {
		out.MilestonesReached[m] = struct{}{}
	}
	out.CurrentPlaySegmentStart = clonePtr(s.CurrentPlaySegmentStart)
	out.PauseWallClockStart = clonePtr(s.PauseWallClockStart)
	out.UnmutedAtSecond = clonePtr(s.UnmutedAtSecond)
	out.FirstInteractionTime = clonePtr(s.FirstInteractionTime)
	out.SessionStartTime = clonePtr(s.SessionStartTime)
	out.SessionEndTime = clonePtr(s.SessionEndTime)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
