package backend

import (
	"errors"
	"fmt"
)

// TransportError is a connection-level failure: the worker was unreachable,
// the connection dropped, or a call timed out. Retryable by the caller.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is an unexpected message shape: a missing result field, an
// undecodable event, or a reply the protocol state does not allow.
type ProtocolError struct {
	Backend string
	Detail  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol: %s", e.Backend, e.Detail)
}

// BackendError is an explicit failure state reported by the worker.
type BackendError struct {
	Backend string
	Detail  string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: backend: %s", e.Backend, e.Detail)
}

// Class returns the taxonomy class of err for metrics labels.
func Class(err error) string {
	var te *TransportError
	var pe *ProtocolError
	var be *BackendError
	switch {
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &be):
		return "backend"
	default:
		return "unknown"
	}
}
