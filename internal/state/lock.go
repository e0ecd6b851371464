// Package state holds the shared mutable state of the agent: conversation
// histories and settings categories, a FIFO exclusive-section lock guarding
// compound mutations, and a debounced writer mirroring the state to disk.
package state

import (
	"sync"
)

// Lock is a cooperative exclusive-section primitive with strict FIFO handoff:
// Release hands the lock to the longest-waiting acquirer. Unlike sync.Mutex it
// guarantees wait order equals acquisition order. There is no timeout or
// cancellation; callers hold it only around short state mutations.
type Lock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// NewLock returns an unheld lock.
func NewLock() *Lock {
	return &Lock{}
}

// Acquire blocks until the caller holds the lock.
func (l *Lock) Acquire() {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()
	<-ready
}

// Release hands the lock to the longest-waiting acquirer, or marks it free
// if none is waiting.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

// RunExclusive acquires the lock, runs fn, and releases on every exit path.
func (l *Lock) RunExclusive(fn func()) {
	l.Acquire()
	defer l.Release()
	fn()
}
