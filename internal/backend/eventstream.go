package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/pkg/logger"
)

// Default worker queue paths for event-stream workers.
const (
	defaultSubmitPath = "/queue/join"
	defaultStreamPath = "/queue/data"
)

// StreamClient drives one worker over the submit + server-push protocol:
// a one-shot HTTP submission correlated by session hash, then a server-sent
// event stream read until a terminal event. Some workers additionally emit a
// send_data event mid-stream carrying a server-assigned event id; the client
// must answer it with a second HTTP call before the worker proceeds.
type StreamClient struct {
	base       string
	submitPath string
	streamPath string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewStreamClient creates a client for one worker endpoint.
func NewStreamClient(base string, log *logger.Logger) *StreamClient {
	return &StreamClient{
		base:       strings.TrimRight(base, "/"),
		submitPath: defaultSubmitPath,
		streamPath: defaultStreamPath,
		httpClient: &http.Client{Timeout: 0},
		logger:     log,
	}
}

// Job is one submission to an event-stream worker.
type Job struct {
	Backend   string
	Data      []any
	FnIndex   int
	TriggerID int
}

// submission is the wire payload of the submit call.
type submission struct {
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
	FnIndex     int    `json:"fn_index"`
	TriggerID   int    `json:"trigger_id"`
	SessionHash string `json:"session_hash"`
}

// streamEvent is the envelope of every server-push event.
type streamEvent struct {
	Msg     string `json:"msg"`
	EventID string `json:"event_id,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Output  struct {
		Data  []any  `json:"data"`
		Error string `json:"error,omitempty"`
	} `json:"output"`
}

// Worker event kinds.
const (
	msgSendData         = "send_data"
	msgProcessCompleted = "process_completed"
	msgProcessFailed    = "process_failed"
	msgQueueFull        = "queue_full"
	msgCloseStream      = "close_stream"
)

// Run submits the job and reads the event stream until completion, returning
// the result location. The stream is closed on every exit path.
func (c *StreamClient) Run(ctx context.Context, job Job) (string, error) {
	hash := newSessionHash()

	if err := c.submit(ctx, job, hash); err != nil {
		return "", err
	}

	streamURL := fmt.Sprintf("%s%s?session_hash=%s", c.base, c.streamPath, url.QueryEscape(hash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return "", &TransportError{Backend: job.Backend, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Backend: job.Backend, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &TransportError{Backend: job.Backend, Err: fmt.Errorf("stream status %d", resp.StatusCode)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return "", &ProtocolError{Backend: job.Backend, Detail: fmt.Sprintf("undecodable event: %v", err)}
		}

		switch event.Msg {
		case msgSendData:
			// The worker will not proceed until the submission payload is
			// re-sent against the server-assigned event id.
			if event.EventID == "" {
				return "", &ProtocolError{Backend: job.Backend, Detail: "send_data event without event_id"}
			}
			if err := c.sendData(ctx, job, hash, event.EventID); err != nil {
				return "", err
			}
		case msgProcessCompleted:
			if event.Success != nil && !*event.Success {
				detail := event.Output.Error
				if detail == "" {
					detail = "worker reported failure"
				}
				return "", &BackendError{Backend: job.Backend, Detail: detail}
			}
			location, ok := extractLocation(event.Output.Data)
			if !ok {
				return "", &ProtocolError{Backend: job.Backend, Detail: "process_completed without result location"}
			}
			return c.absolute(location), nil
		case msgProcessFailed:
			return "", &BackendError{Backend: job.Backend, Detail: "media processing failed"}
		case msgQueueFull:
			return "", &BackendError{Backend: job.Backend, Detail: "worker queue full"}
		case msgCloseStream:
			return "", &ProtocolError{Backend: job.Backend, Detail: "stream closed before completion"}
		default:
			// Queue position estimates, heartbeats and progress events
			// carry nothing the caller needs.
			c.logger.Debug("stream event", zap.String("backend", job.Backend), zap.String("msg", event.Msg))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &TransportError{Backend: job.Backend, Err: err}
	}
	return "", &ProtocolError{Backend: job.Backend, Detail: "stream ended before completion"}
}

func (c *StreamClient) submit(ctx context.Context, job Job, hash string) error {
	body, err := json.Marshal(submission{
		Data:        job.Data,
		FnIndex:     job.FnIndex,
		TriggerID:   job.TriggerID,
		SessionHash: hash,
	})
	if err != nil {
		return &ProtocolError{Backend: job.Backend, Detail: fmt.Sprintf("encode submission: %v", err)}
	}
	return c.post(ctx, job.Backend, c.base+c.submitPath, body)
}

// sendData answers a mid-stream send_data event, correlating the original
// submission with the server-assigned event id.
func (c *StreamClient) sendData(ctx context.Context, job Job, hash, eventID string) error {
	body, err := json.Marshal(map[string]any{
		"data":         job.Data,
		"event_id":     eventID,
		"session_hash": hash,
	})
	if err != nil {
		return &ProtocolError{Backend: job.Backend, Detail: fmt.Sprintf("encode send_data reply: %v", err)}
	}
	return c.post(ctx, job.Backend, c.base+c.streamPath, body)
}

func (c *StreamClient) post(ctx context.Context, backendName, target string, body []byte) error {
	postCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(postCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Backend: backendName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Backend: backendName, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Backend: backendName, Err: fmt.Errorf("post status %d", resp.StatusCode)}
	}
	return nil
}

// absolute resolves a worker-relative file path against the worker base URL.
func (c *StreamClient) absolute(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	return c.base + "/file=" + location
}
