package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/reel-study/backend/internal/tracker"
)

// Step actions.
const (
	ActionAttach     = "attach"
	ActionReady      = "ready"
	ActionTap        = "tap"
	ActionPlay       = "play"
	ActionPause      = "pause"
	ActionSeek       = "seek"
	ActionEnd        = "end"
	ActionMuteToggle = "mute_toggle"
	ActionSignal     = "signal"
)

// Script describes one simulated page visit.
type Script struct {
	Condition     string  `json:"condition"`
	MediaID       string  `json:"media_id"`
	ParticipantID string  `json:"participant_id"`
	SessionID     string  `json:"session_id"`
	Duration      float64 `json:"duration"`
	Muted         bool    `json:"muted"`
	// AutoEnable starts tracking after AutoEnableDelayMs instead of waiting for a tap.
	AutoEnable        bool   `json:"auto_enable"`
	AutoEnableDelayMs int    `json:"auto_enable_delay_ms"`
	PollIntervalMs    int    `json:"poll_interval_ms"`
	FinalizeOnEnd     *bool  `json:"finalize_on_end"`
	Steps             []Step `json:"steps"`
}

// Step is one page event at At seconds after page load.
type Step struct {
	At       float64 `json:"at"`
	Action   string  `json:"action"`
	Position float64 `json:"position,omitempty"`
	Signal   string  `json:"signal,omitempty"`
}

func (s Step) offset() time.Duration {
	return time.Duration(s.At * float64(time.Second))
}

// Load reads a script file.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a script. Steps are ordered by time, keeping file order for ties.
func Parse(r io.Reader) (*Script, error) {
	var s Script
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].At < s.Steps[j].At })
	return &s, nil
}

// Validate checks the script for values the runner cannot replay.
func (s *Script) Validate() error {
	if s.Condition == "" {
		return fmt.Errorf("script: condition is required")
	}
	if s.Duration <= 0 {
		return fmt.Errorf("script: duration must be positive")
	}
	for i, st := range s.Steps {
		if st.At < 0 {
			return fmt.Errorf("script: step %d: negative time", i)
		}
		switch st.Action {
		case ActionAttach, ActionReady, ActionTap, ActionPlay, ActionPause, ActionSeek, ActionEnd, ActionMuteToggle:
		case ActionSignal:
			if _, ok := tracker.ParseSignal(st.Signal); !ok {
				return fmt.Errorf("script: step %d: unknown signal %q", i, st.Signal)
			}
		default:
			return fmt.Errorf("script: step %d: unknown action %q", i, st.Action)
		}
	}
	return nil
}

func (s *Script) finalizeOnEnd() bool {
	if s.FinalizeOnEnd == nil {
		return true
	}
	return *s.FinalizeOnEnd
}
