package delivery

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleCollapsesBurst(t *testing.T) {
	var fires atomic.Int64
	th := newThrottle(50*time.Millisecond, func() { fires.Add(1) })
	defer th.Stop()

	// First trigger fires immediately; the burst behind it collapses into
	// at most one more scheduled run.
	for i := 0; i < 100; i++ {
		th.Trigger()
	}

	require.Eventually(t, func() bool { return fires.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	require.LessOrEqual(t, fires.Load(), int64(3))
}

func TestThrottleSpacing(t *testing.T) {
	var times atomic.Int64
	start := time.Now()
	var second time.Duration
	done := make(chan struct{})

	th := newThrottle(40*time.Millisecond, func() {
		if times.Add(1) == 2 {
			second = time.Since(start)
			close(done)
		}
	})
	defer th.Stop()

	th.Trigger() // fires immediately
	require.Eventually(t, func() bool { return times.Load() == 1 }, time.Second, time.Millisecond)
	th.Trigger() // scheduled one interval after the first run

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second run never fired")
	}
	require.GreaterOrEqual(t, second, 30*time.Millisecond)
}

func TestThrottleStopRejectsTriggers(t *testing.T) {
	var fires atomic.Int64
	th := newThrottle(time.Millisecond, func() { fires.Add(1) })

	th.Stop()
	th.Trigger()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, fires.Load())
}
