package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/pkg/logger"
)

// SocketClient drives one worker over the duplex websocket protocol. The
// worker leads the exchange: it asks for the session hash, then for the
// argument vector, then pushes a terminal event. The socket is closed on
// every exit path if the worker has not already closed it.
type SocketClient struct {
	url    string
	dialer *websocket.Dialer
	logger *logger.Logger
}

// NewSocketClient creates a client for one websocket worker endpoint.
func NewSocketClient(wsURL string, log *logger.Logger) *SocketClient {
	return &SocketClient{
		url:    wsURL,
		dialer: websocket.DefaultDialer,
		logger: log,
	}
}

// socketEvent is the envelope of every worker message.
type socketEvent struct {
	Msg     string `json:"msg"`
	Success *bool  `json:"success,omitempty"`
	Output  struct {
		Data  []any  `json:"data"`
		Error string `json:"error,omitempty"`
	} `json:"output"`
}

// Worker socket message kinds.
const (
	msgSendHash = "send_hash"
	wsSendData  = "send_data"
)

// Run opens the socket, answers the worker's prompts, and resolves with the
// result location from the process_completed event.
func (c *SocketClient) Run(ctx context.Context, job Job) (string, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial status %d: %w", resp.StatusCode, err)
		}
		return "", &TransportError{Backend: job.Backend, Err: err}
	}
	defer conn.Close()

	hash := newSessionHash()

	for {
		select {
		case <-ctx.Done():
			return "", &TransportError{Backend: job.Backend, Err: ctx.Err()}
		default:
		}

		var event socketEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", &ProtocolError{Backend: job.Backend, Detail: "socket closed before completion"}
			}
			return "", &TransportError{Backend: job.Backend, Err: err}
		}

		switch event.Msg {
		case msgSendHash:
			reply := map[string]any{"session_hash": hash, "fn_index": job.FnIndex}
			if err := conn.WriteJSON(reply); err != nil {
				return "", &TransportError{Backend: job.Backend, Err: err}
			}
		case wsSendData:
			reply := map[string]any{"data": job.Data}
			if err := conn.WriteJSON(reply); err != nil {
				return "", &TransportError{Backend: job.Backend, Err: err}
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
		default:
			c.logger.Debug("socket event", zap.String("backend", job.Backend), zap.String("msg", event.Msg))
		}
	}
}

// absolute resolves a worker-relative file path against the worker's HTTP
// origin.
func (c *SocketClient) absolute(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return location
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = "/file=" + location
	u.RawQuery = ""
	return u.String()
}
