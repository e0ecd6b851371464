package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harmonia-ai/muse/internal/model"
)

func TestWriterCoalescesBurst(t *testing.T) {
	store := testStore(t)
	w := NewWriter(store, testLogger())

	const burst = 25
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	w.beforeFlush = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	w.Save()
	<-entered
	// Everything arriving while the first flush is blocked must collapse
	// into a single trailing flush.
	for i := 0; i < burst; i++ {
		w.Save()
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))

	// First flush + one coalesced trailing flush + the flush forced by
	// Flush itself.
	require.LessOrEqual(t, w.Flushes(), int64(3))
	require.GreaterOrEqual(t, w.Flushes(), int64(2))
}

func TestWriterFlushReflectsLatestState(t *testing.T) {
	dir := t.TempDir()
	historyDir := filepath.Join(dir, "history")
	store := NewStore(historyDir, filepath.Join(dir, "config"), testLogger())
	w := NewWriter(store, testLogger())

	store.AppendTurns("dave", "t", model.Turn{
		Role: model.RoleUser, Parts: []model.ContentPart{model.TextPart("first")},
	})
	w.Save()
	store.AppendTurns("dave", "t", model.Turn{
		Role: model.RoleAssistant, Parts: []model.ContentPart{model.TextPart("second")},
	})
	w.Save()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))

	data, err := os.ReadFile(filepath.Join(historyDir, "dave.json"))
	require.NoError(t, err)

	var hist model.SubjectHistory
	require.NoError(t, json.Unmarshal(data, &hist))
	require.Equal(t, model.SchemaVersion, hist.Version)
	require.Len(t, hist.Threads["t"], 2)
	require.Equal(t, "second", hist.Threads["t"][1].Text())
}

func TestWriterFlushHonorsContext(t *testing.T) {
	store := testStore(t)
	w := NewWriter(store, testLogger())

	blocked := make(chan struct{})
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	w.beforeFlush = func() {
		select {
		case <-blocked:
		default:
			close(blocked)
		}
		<-hold
	}

	w.Save()
	<-blocked

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)
}

func TestWriterSaveIsNonBlocking(t *testing.T) {
	store := testStore(t)
	w := NewWriter(store, testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Save()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Save blocked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))
}
