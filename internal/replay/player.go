package replay

import (
	"math"
	"sync"
	"time"

	"github.com/reel-study/backend/internal/tracker"
)

// ScriptedPlayer is a tracker.Adapter whose state is set by replay steps. Commands from
// the tracker are recorded; the script decides how the page reacts to them.
type ScriptedPlayer struct {
	clock *virtualClock

	mu       sync.Mutex
	attached bool
	ready    bool
	duration float64
	position float64
	playing  bool
	since    time.Time // when position was set
	muted    bool
	commands []string
	subs     map[int]func(tracker.Notification)
	nextSub  int
}

func newScriptedPlayer(clock *virtualClock, duration float64, muted bool) *ScriptedPlayer {
	return &ScriptedPlayer{
		clock:    clock,
		duration: duration,
		muted:    muted,
		subs:     make(map[int]func(tracker.Notification)),
	}
}

// Commands returns the commands the tracker issued, in order.
func (p *ScriptedPlayer) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func (p *ScriptedPlayer) attach() {
	p.mu.Lock()
	p.attached = true
	p.mu.Unlock()
}

func (p *ScriptedPlayer) isAttached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

func (p *ScriptedPlayer) markReady() {
	p.mu.Lock()
	p.attached = true
	p.ready = true
	d := p.duration
	p.mu.Unlock()
	p.notify(tracker.Notification{State: tracker.PlayerReady, Duration: d})
}

func (p *ScriptedPlayer) transition(state tracker.PlayerState, pos float64) {
	p.mu.Lock()
	p.position = pos
	p.since = p.clock.Now()
	p.playing = state == tracker.PlayerPlaying
	p.mu.Unlock()
	p.notify(tracker.Notification{State: state, Position: pos})
}

// seek moves the playhead without a notification, as scrubbing does.
func (p *ScriptedPlayer) seek(pos float64) {
	p.mu.Lock()
	p.position = pos
	p.since = p.clock.Now()
	p.mu.Unlock()
}

func (p *ScriptedPlayer) CurrentTime() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, tracker.ErrPlayerNotReady
	}
	pos := p.position
	if p.playing {
		pos = math.Min(p.duration, pos+p.clock.Now().Sub(p.since).Seconds())
	}
	return pos, nil
}

func (p *ScriptedPlayer) Duration() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, tracker.ErrPlayerNotReady
	}
	return p.duration, nil
}

func (p *ScriptedPlayer) IsMuted() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return false, tracker.ErrPlayerNotReady
	}
	return p.muted, nil
}

func (p *ScriptedPlayer) Mute() error   { return p.command("mute", true) }
func (p *ScriptedPlayer) Unmute() error { return p.command("unmute", false) }
func (p *ScriptedPlayer) Play() error   { return p.command("play", false) }

func (p *ScriptedPlayer) command(name string, mute bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return tracker.ErrPlayerNotReady
	}
	p.commands = append(p.commands, name)
	switch name {
	case "mute":
		p.muted = mute
	case "unmute":
		p.muted = false
	}
	return nil
}

func (p *ScriptedPlayer) Subscribe(fn func(tracker.Notification)) (unsubscribe func()) {
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

func (p *ScriptedPlayer) notify(n tracker.Notification) {
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
