package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockMutualExclusion(t *testing.T) {
	l := NewLock()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.RunExclusive(func() {
					mu.Lock()
					inside++
					if inside > maxInside {
						maxInside = inside
					}
					mu.Unlock()

					mu.Lock()
					inside--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxInside, "more than one goroutine inside the exclusive section")
}

func TestLockFIFOOrder(t *testing.T) {
	l := NewLock()
	l.Acquire()

	const n = 8
	order := make(chan int, n)
	started := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			// Serialize arrival so queue position is deterministic.
			<-started
			l.Acquire()
			order <- id
			l.Release()
		}(i)

		// Let goroutine i join the waiter queue before i+1 starts.
		started <- struct{}{}
		waitForWaiters(t, l, i+1)
	}

	l.Release()
	wg.Wait()
	close(order)

	got := make([]int, 0, n)
	for id := range order {
		got = append(got, id)
	}
	for i, id := range got {
		require.Equal(t, i, id, "lock handed off out of arrival order")
	}
}

func TestLockReleaseWithoutWaiters(t *testing.T) {
	l := NewLock()
	l.Acquire()
	l.Release()

	done := make(chan struct{})
	go func() {
		l.Acquire()
		l.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock not reacquirable after release")
	}
}

// waitForWaiters blocks until the lock's waiter queue reaches n entries.
func waitForWaiters(t *testing.T, l *Lock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		l.mu.Lock()
		waiting := len(l.waiters)
		l.mu.Unlock()
		if waiting >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters, have %d", n, waiting)
		}
		time.Sleep(time.Millisecond)
	}
}
