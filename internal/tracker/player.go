package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPlayerNotReady is returned when a capability call happens before the player reported Ready.
	ErrPlayerNotReady = errors.New("player not ready")
	// ErrPlayerNotAttached is returned by Locate when the player element never showed up.
	ErrPlayerNotAttached = errors.New("player not attached")
)

// PlayerState is a discrete notification kind delivered by an Adapter.
type PlayerState int

const (
	PlayerReady PlayerState = iota
	PlayerPlaying
	PlayerPaused
	PlayerEnded
)

func (s PlayerState) String() string {
	switch s {
	case PlayerReady:
		return "ready"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerEnded:
		return "ended"
	default:
		return fmt.Sprintf("player_state(%d)", int(s))
	}
}

// ParsePlayerState maps the wire name of a notification to its PlayerState.
func ParsePlayerState(s string) (PlayerState, bool) {
	switch s {
	case "ready":
		return PlayerReady, true
	case "playing":
		return PlayerPlaying, true
	case "paused":
		return PlayerPaused, true
	case "ended":
		return PlayerEnded, true
	}
	return 0, false
}

// Notification is one state change reported by the player.
// Duration is only meaningful for PlayerReady.
type Notification struct {
	State    PlayerState
	Position float64
	Duration float64
}

// Player is the query/command surface of the embedded media element.
type Player interface {
	CurrentTime() (float64, error)
	Duration() (float64, error)
	IsMuted() (bool, error)
	Mute() error
	Unmute() error
	Play() error
}

// Adapter is a Player that also delivers state notifications.
type Adapter interface {
	Player
	Subscribe(fn func(Notification)) (unsubscribe func())
}

// Locate polls find until it reports an attached adapter. Player construction can race page
// rendering, so the element may not exist on the first look.
func Locate(ctx context.Context, find func() (Adapter, bool), interval time.Duration, attempts int) (Adapter, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for i := 0; i < attempts; i++ {
		if a, ok := find(); ok {
			return a, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, ErrPlayerNotAttached)
}
