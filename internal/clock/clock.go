package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time so lockout windows and expiry timers can be
// driven by a simulated clock in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable deferred call armed via Clock.AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the
	// timer has already fired or been stopped.
	Stop() bool
}

// Real is a Clock backed by the system clock.
type Real struct{}

// New returns the system clock.
func New() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Clock whose time only moves when Advance or Set is called.
// Timers armed via AfterFunc fire synchronously inside Advance once their
// deadline is reached.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManual creates a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTimer{
		clock:    m,
		deadline: m.now.Add(d),
		f:        f,
	}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward and fires any timers whose deadline
// has been reached, in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	due := m.takeDueLocked()
	m.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// takeDueLocked removes and returns timers whose deadline has passed.
func (m *Manual) takeDueLocked() []*manualTimer {
	var due []*manualTimer
	var pending []*manualTimer

	for _, t := range m.timers {
		if t.stopped {
			continue
		}
		if !t.deadline.After(m.now) {
			t.fired = true
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	m.timers = pending

	sort.Slice(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	f        func()
	fired    bool
	stopped  bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
