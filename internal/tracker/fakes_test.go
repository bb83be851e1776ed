package tracker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeAdapter struct {
	mu       sync.Mutex
	ready    bool
	position float64
	duration float64
	muted    bool
	plays    int
	unmutes  int
	mutes    int
	handler  func(Notification)
}

func (a *fakeAdapter) CurrentTime() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return 0, ErrPlayerNotReady
	}
	return a.position, nil
}

func (a *fakeAdapter) Duration() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return 0, ErrPlayerNotReady
	}
	return a.duration, nil
}

func (a *fakeAdapter) IsMuted() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return false, ErrPlayerNotReady
	}
	return a.muted, nil
}

func (a *fakeAdapter) Mute() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mutes++
	a.muted = true
	return nil
}

func (a *fakeAdapter) Unmute() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unmutes++
	a.muted = false
	return nil
}

func (a *fakeAdapter) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plays++
	return nil
}

func (a *fakeAdapter) Subscribe(fn func(Notification)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.handler = nil
	}
}

func (a *fakeAdapter) setPosition(pos float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = pos
}

// notify delivers n the way a player would, moving the position first.
func (a *fakeAdapter) notify(n Notification) {
	a.mu.Lock()
	if n.State == PlayerReady {
		a.ready = true
		a.duration = n.Duration
	} else {
		a.position = n.Position
	}
	h := a.handler
	a.mu.Unlock()
	if h != nil {
		h(n)
	}
}

type recorded struct {
	name  string
	props Properties
}

type recordingSink struct {
	mu     sync.Mutex
	events []recorded
	err    error
}

func (s *recordingSink) Emit(_ context.Context, name string, props Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recorded{name: name, props: props})
	return s.err
}

func (s *recordingSink) named(name string) []Properties {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Properties
	for _, e := range s.events {
		if e.name == name {
			out = append(out, e.props)
		}
	}
	return out
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.name)
	}
	return out
}

var errSinkDown = errors.New("sink down")
