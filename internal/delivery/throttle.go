package delivery

import (
	"sync"
	"time"
)

// throttle runs fn at most once per interval. Trigger while a run is already
// scheduled is a no-op, so a burst of stream increments costs one refresh.
type throttle struct {
	mu        sync.Mutex
	interval  time.Duration
	fn        func()
	scheduled bool
	stopped   bool
	last      time.Time
	timer     *time.Timer
}

func newThrottle(interval time.Duration, fn func()) *throttle {
	return &throttle{interval: interval, fn: fn}
}

// Trigger schedules one run of fn, no sooner than interval after the
// previous run.
func (t *throttle) Trigger() {
	t.mu.Lock()
	if t.stopped || t.scheduled {
		t.mu.Unlock()
		return
	}
	delay := t.interval - time.Since(t.last)
	if delay < 0 {
		delay = 0
	}
	t.scheduled = true
	t.timer = time.AfterFunc(delay, t.fire)
	t.mu.Unlock()
}

func (t *throttle) fire() {
	t.mu.Lock()
	t.scheduled = false
	t.last = time.Now()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.fn()
}

// Stop cancels any scheduled run and rejects future triggers.
func (t *throttle) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
}
