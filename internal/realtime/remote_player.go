package realtime

import (
	"math"
	"sync"
	"time"

	"github.com/reel-study/backend/internal/tracker"
)

// Player command actions pushed to the page.
const (
	ActionPlay   = "play"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
)

// RemotePlayer is a tracker.Adapter for a media element living in a browser page. Queries are
// answered from the last report; while playing the position advances with wall time.
type RemotePlayer struct {
	send func(action string) error
	now  func() time.Time

	mu       sync.Mutex
	attached bool
	ready    bool
	duration float64
	position float64
	reported time.Time
	playing  bool
	muted    bool
	subs     map[int]func(tracker.Notification)
	nextSub  int
}

// NewRemotePlayer creates a player that issues commands through send.
func NewRemotePlayer(send func(action string) error) *RemotePlayer {
	return &RemotePlayer{send: send, now: time.Now, subs: make(map[int]func(tracker.Notification))}
}

// Attached reports whether the page has announced the element.
func (p *RemotePlayer) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// MarkAttached records that the page found its media element.
func (p *RemotePlayer) MarkAttached() {
	p.mu.Lock()
	p.attached = true
	p.mu.Unlock()
}

// MarkReady records metadata and notifies subscribers.
func (p *RemotePlayer) MarkReady(duration float64, muted bool) {
	p.mu.Lock()
	p.attached = true
	p.ready = true
	p.duration = duration
	p.muted = muted
	p.reported = p.now()
	p.mu.Unlock()
	p.notify(tracker.Notification{State: tracker.PlayerReady, Duration: duration})
}

// ReportState records a playback transition and notifies subscribers.
func (p *RemotePlayer) ReportState(state tracker.PlayerState, position float64) {
	p.mu.Lock()
	p.position = position
	p.reported = p.now()
	p.playing = state == tracker.PlayerPlaying
	p.mu.Unlock()
	p.notify(tracker.Notification{State: state, Position: position})
}

// ReportTick refreshes position and mute state without a notification.
func (p *RemotePlayer) ReportTick(position float64, muted bool) {
	p.mu.Lock()
	p.position = position
	p.reported = p.now()
	p.muted = muted
	p.mu.Unlock()
}

// SetMuted records a mute state the page confirmed.
func (p *RemotePlayer) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

func (p *RemotePlayer) CurrentTime() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, tracker.ErrPlayerNotReady
	}
	pos := p.position
	if p.playing {
		pos += p.now().Sub(p.reported).Seconds()
		if p.duration > 0 {
			pos = math.Min(pos, p.duration)
		}
	}
	return pos, nil
}

func (p *RemotePlayer) Duration() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, tracker.ErrPlayerNotReady
	}
	return p.duration, nil
}

func (p *RemotePlayer) IsMuted() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return false, tracker.ErrPlayerNotReady
	}
	return p.muted, nil
}

func (p *RemotePlayer) Mute() error {
	if err := p.command(ActionMute); err != nil {
		return err
	}
	p.SetMuted(true)
	return nil
}

func (p *RemotePlayer) Unmute() error {
	if err := p.command(ActionUnmute); err != nil {
		return err
	}
	p.SetMuted(false)
	return nil
}

func (p *RemotePlayer) Play() error {
	return p.command(ActionPlay)
}

func (p *RemotePlayer) command(action string) error {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return tracker.ErrPlayerNotReady
	}
	return p.send(action)
}

// Subscribe registers fn for state notifications.
func (p *RemotePlayer) Subscribe(fn func(tracker.Notification)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// notify calls subscribers without holding p.mu; they call back into the player.
func (p *RemotePlayer) notify(n tracker.Notification) {
	p.mu.Lock()
	fns := make([]func(tracker.Notification), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}
