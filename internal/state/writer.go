package state

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harmonia-ai/muse/pkg/logger"
	"github.com/harmonia-ai/muse/pkg/metrics"
)

// Writer mirrors the Store to disk with trailing-edge coalescing: any number
// of Save calls arriving while a flush is in flight collapse into exactly one
// additional flush after the current one completes, capturing the state as of
// that later moment. A save request is never dropped, only coalesced.
type Writer struct {
	store  *Store
	logger *logger.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight bool
	pending  bool
	flushes  int64

	// beforeFlush, when set, runs at the start of each flush cycle. Test hook.
	beforeFlush func()
}

// NewWriter creates a writer for the store.
func NewWriter(store *Store, log *logger.Logger) *Writer {
	w := &Writer{store: store, logger: log}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Save requests a flush. It returns immediately; if a flush is already in
// flight, one trailing flush is scheduled instead of a new one per call.
func (w *Writer) Save() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight {
		w.pending = true
		return
	}
	w.inFlight = true
	go w.run()
}

func (w *Writer) run() {
	for {
		w.flushOnce()

		w.mu.Lock()
		if w.pending {
			w.pending = false
			w.mu.Unlock()
			continue
		}
		w.inFlight = false
		w.cond.Broadcast()
		w.mu.Unlock()
		return
	}
}

// flushOnce writes one file per history subject plus one per settings
// category, all issued concurrently. An individual write failure is logged
// and does not abort sibling writes.
func (w *Writer) flushOnce() {
	if w.beforeFlush != nil {
		w.beforeFlush()
	}

	files := w.store.snapshot()
	var g errgroup.Group
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := writeFileAtomic(f.path, f.content); err != nil {
				w.logger.Error("state file write failed", zap.String("path", f.path), zap.Error(err))
				metrics.PersistenceErrors.Inc()
			}
			return nil
		})
	}
	g.Wait()

	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
	metrics.PersistenceFlushes.Inc()
}

// Flush forces a save and blocks until no flush is in flight or pending, or
// the context is done. Used at shutdown and by the daily reset.
func (w *Writer) Flush(ctx context.Context) error {
	w.Save()

	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		for w.inFlight || w.pending {
			w.cond.Wait()
		}
		w.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flushes returns the number of completed flush cycles.
func (w *Writer) Flushes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushes
}
