package reservation

import (
	"sync"
	"time"
)

// HoldTimer fires one callback at a deadline. Starting it again replaces the
// previous deadline, and a callback from a replaced or cancelled start never
// runs.
type HoldTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	gen      uint64
	active   bool
	now      func() time.Time
}

func NewHoldTimer() *HoldTimer {
	return &HoldTimer{now: time.Now}
}

// Start arms the timer for d from now. It returns the generation passed to
// fn, which Active can check later.
func (t *HoldTimer) Start(d time.Duration, fn func(gen uint64)) uint64 {
	return t.StartAt(t.now().Add(d), fn)
}

// StartAt arms the timer for an absolute deadline. A deadline in the past
// fires right away.
func (t *HoldTimer) StartAt(deadline time.Time, fn func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.deadline = deadline
	t.active = true

	t.timer = time.AfterFunc(max(deadline.Sub(t.now()), 0), func() {
		if t.Active(gen) {
			fn(gen)
		}
	})
	return gen
}

// Cancel disarms the timer. It reports whether it was armed.
func (t *HoldTimer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := t.active
	t.stopLocked()
	t.gen++
	t.active = false
	t.deadline = time.Time{}
	return wasActive
}

func (t *HoldTimer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Active reports whether gen is the current, uncancelled start.
func (t *HoldTimer) Active(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active && t.gen == gen
}

// Deadline returns the armed deadline, or false when the timer is idle.
func (t *HoldTimer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, t.active
}

// Remaining is zero when the timer is idle or already due.
func (t *HoldTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return 0
	}
	return max(t.deadline.Sub(t.now()), 0)
}
