package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

// streamWorker is a fake event-stream worker. Submissions are recorded;
// the stream emits the configured events once a submission has arrived.
type streamWorker struct {
	mu          sync.Mutex
	submissions []submission
	dataReplies []map[string]any

	// events are emitted on the stream in order. A "WAIT_SEND_DATA"
	// pseudo-event blocks until the client answers the send_data call.
	events       []string
	sendDataSeen chan struct{}
}

func newStreamWorker(events ...string) *streamWorker {
	return &streamWorker{events: events, sendDataSeen: make(chan struct{}, 1)}
}

func (f *streamWorker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/queue/join", func(w http.ResponseWriter, r *http.Request) {
		var sub submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.submissions = append(f.submissions, sub)
		f.mu.Unlock()
		fmt.Fprint(w, `{"rank":0}`)
	})
	mux.HandleFunc("/queue/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var reply map[string]any
			if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.dataReplies = append(f.dataReplies, reply)
			f.mu.Unlock()
			select {
			case f.sendDataSeen <- struct{}{}:
			default:
			}
			fmt.Fprint(w, `{}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range f.events {
			if ev == "WAIT_SEND_DATA" {
				select {
				case <-f.sendDataSeen:
				case <-time.After(5 * time.Second):
					return
				}
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	})
	return mux
}

func (f *streamWorker) lastSubmission(t *testing.T) submission {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.submissions)
	return f.submissions[len(f.submissions)-1]
}

func TestStreamRunCompletes(t *testing.T) {
	worker := newStreamWorker(
		`{"msg":"estimation","rank":0}`,
		`{"msg":"process_starts"}`,
		`{"msg":"process_completed","success":true,"output":{"data":[[{"name":"tmp/result.png","is_file":true}]]}}`,
	)
	srv := httptest.NewServer(worker.handler())
	defer srv.Close()

	c := NewStreamClient(srv.URL, testLogger())
	location, err := c.Run(context.Background(), Job{
		Backend: "crystal", Data: []any{"a castle", "", "", 4, 1024, 1024, 7.5, true},
		FnIndex: 67, TriggerID: 93,
	})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/file=tmp/result.png", location)

	sub := worker.lastSubmission(t)
	require.Equal(t, 67, sub.FnIndex)
	require.Equal(t, 93, sub.TriggerID)
	require.Len(t, sub.SessionHash, 12)
	require.Equal(t, "a castle", sub.Data[0])
}

func TestStreamRunAnswersSendData(t *testing.T) {
	worker := newStreamWorker(
		`{"msg":"send_data","event_id":"ev-42"}`,
		"WAIT_SEND_DATA",
		`{"msg":"process_completed","success":true,"output":{"data":[{"url":"https://cdn.example/out.mp3"}]}}`,
	)
	srv := httptest.NewServer(worker.handler())
	defer srv.Close()

	c := NewStreamClient(srv.URL, testLogger())
	location, err := c.Run(context.Background(), Job{
		Backend: "cadence", Data: []any{"lofi beats", 15, 3, "mp3"}, FnIndex: 4, TriggerID: 11,
	})
	require.NoError(t, err)
	// Absolute URLs are passed through untouched.
	require.Equal(t, "https://cdn.example/out.mp3", location)

	worker.mu.Lock()
	defer worker.mu.Unlock()
	require.Len(t, worker.dataReplies, 1)
	require.Equal(t, "ev-42", worker.dataReplies[0]["event_id"])
	require.NotEmpty(t, worker.dataReplies[0]["session_hash"])
	require.Equal(t, "lofi beats", worker.dataReplies[0]["data"].([]any)[0])
}

func TestStreamRunWorkerFailure(t *testing.T) {
	tests := []struct {
		name  string
		event string
		class string
	}{
		{"process_failed", `{"msg":"process_failed"}`, "backend"},
		{"queue_full", `{"msg":"queue_full"}`, "backend"},
		{"completed unsuccessful", `{"msg":"process_completed","success":false,"output":{"error":"CUDA out of memory"}}`, "backend"},
		{"completed without location", `{"msg":"process_completed","success":true,"output":{"data":[]}}`, "protocol"},
		{"send_data without event id", `{"msg":"send_data"}`, "protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := newStreamWorker(tt.event)
			srv := httptest.NewServer(worker.handler())
			defer srv.Close()

			c := NewStreamClient(srv.URL, testLogger())
			_, err := c.Run(context.Background(), Job{Backend: "test"})
			require.Error(t, err)
			require.Equal(t, tt.class, Class(err))
		})
	}
}

func TestStreamRunStreamEndsEarly(t *testing.T) {
	worker := newStreamWorker(`{"msg":"process_starts"}`)
	srv := httptest.NewServer(worker.handler())
	defer srv.Close()

	c := NewStreamClient(srv.URL, testLogger())
	_, err := c.Run(context.Background(), Job{Backend: "test"})
	require.Equal(t, "protocol", Class(err))
}

func TestStreamRunUnreachableWorker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse connections

	c := NewStreamClient(srv.URL, testLogger())
	_, err := c.Run(context.Background(), Job{Backend: "test"})
	require.Equal(t, "transport", Class(err))
}
