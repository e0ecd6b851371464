// Package handler provides the admin HTTP handlers.
package handler

import (
	"net/http"

	"github.com/harmonia-ai/muse/internal/events"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	events *events.Publisher
	ready  func() bool
}

// NewHealthHandler creates a new health handler. ready reports whether the
// chat platform session is up; the events publisher may be nil.
func NewHealthHandler(pub *events.Publisher, ready func() bool) *HealthHandler {
	return &HealthHandler{events: pub, ready: ready}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"reason": "platform session not connected",
		})
		return
	}
	// The event feed is optional; its state is informational, not gating.
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"event_feed": h.events.IsConnected(),
	})
}
