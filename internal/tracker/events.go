package tracker

import (
	"fmt"
	"math"
	"time"
)

// SummaryEvent is the name of the primary summary channel.
const SummaryEvent = "video_summary"

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (t *Tracker) eventName(suffix string) string {
	return fmt.Sprintf("%s_%s", t.cfg.Condition, suffix)
}

func (t *Tracker) startProps() Properties {
	return Properties{
		"video_duration": t.session.Duration,
		"video_id":       t.cfg.MediaID,
		"condition":      t.cfg.Condition,
	}
}

func (t *Tracker) watchTimeProps() Properties {
	total := t.session.TotalWatchTimeSeconds
	return Properties{
		"watch_time_seconds": total,
		"watch_time_minutes": roundTo(total/60, 2),
		"condition":          t.cfg.Condition,
	}
}

func (t *Tracker) progressProps(milestone int, pos float64) Properties {
	return Properties{
		"milestone":         milestone,
		"milestone_percent": milestone,
		"current_time":      roundTo(pos, 0),
		"total_watch_time":  roundTo(t.session.TotalWatchTimeSeconds, 0),
		"condition":         t.cfg.Condition,
	}
}

func (t *Tracker) completeProps() Properties {
	s := &t.session
	return Properties{
		"total_watch_time_seconds": roundTo(s.TotalWatchTimeSeconds, 0),
		"total_watch_time_minutes": roundTo(s.TotalWatchTimeSeconds/60, 2),
		"video_duration":           s.Duration,
		"completion_rate":          s.CompletionRate(),
		"play_count":               s.PlayCount,
		"completion_count":         s.CompletionCount,
		"milestones_reached":       s.MilestoneList(),
		"milestone_25_reached":     s.hasMilestone(25),
		"milestone_50_reached":     s.hasMilestone(50),
		"milestone_75_reached":     s.hasMilestone(75),
		"milestone_100_reached":    s.hasMilestone(100),
		"condition":                t.cfg.Condition,
	}
}

func (t *Tracker) summaryProps() Properties {
	s := &t.session
	end := t.clock.Now()
	if s.SessionEndTime != nil {
		end = *s.SessionEndTime
	}
	start := s.PageLoadTime
	if s.SessionStartTime != nil {
		start = *s.SessionStartTime
	}

	var unmutedAt interface{}
	if s.UnmutedAtSecond != nil {
		unmutedAt = roundTo(*s.UnmutedAtSecond, 1)
	}
	var firstInteraction interface{}
	if s.FirstInteractionTime != nil {
		firstInteraction = roundTo(s.FirstInteractionTime.Sub(s.PageLoadTime).Seconds(), 1)
	}
	participant := t.cfg.ParticipantID
	if participant == "" {
		participant = "unknown"
	}

	return Properties{
		"participant_id":     participant,
		"session_start":      start.UTC().Format(time.RFC3339Nano),
		"session_end":        end.UTC().Format(time.RFC3339Nano),
		"total_time_on_page": roundTo(end.Sub(s.PageLoadTime).Seconds(), 0),

		"video_completed":           yesNo(s.VideoCompleted()),
		"watch_duration":            roundTo(s.TotalWatchTimeSeconds, 0),
		"completion_percentage":     s.CompletionRate(),
		"pause_count":               s.PauseCount,
		"total_pause_time":          roundTo(s.TotalPauseTimeSeconds, 0),
		"unmuted":                   yesNo(s.Unmuted),
		"unmuted_at_second":         unmutedAt,
		"replayed":                  yesNo(s.Replayed()),
		"time_to_first_interaction": firstInteraction,

		"video_duration":       s.Duration,
		"play_count":           s.PlayCount,
		"completion_count":     s.CompletionCount,
		"max_progress_reached": roundTo(s.MaxProgressReached, 0),
		"milestones_reached":   s.MilestoneList(),
		"condition":            t.cfg.Condition,
	}
}

func (p Properties) clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
