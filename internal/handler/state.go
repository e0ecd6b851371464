package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/admission"
	"github.com/harmonia-ai/muse/internal/state"
	"github.com/harmonia-ai/muse/pkg/logger"
)

// StateHandler exposes read-only state inspection and a manual flush.
type StateHandler struct {
	store     *state.Store
	writer    *state.Writer
	admission *admission.Controller
	logger    *logger.Logger
}

// NewStateHandler creates a new state handler.
func NewStateHandler(store *state.Store, writer *state.Writer, adm *admission.Controller, log *logger.Logger) *StateHandler {
	return &StateHandler{store: store, writer: writer, admission: adm, logger: log}
}

// Summary handles GET /api/v1/state/summary
func (h *StateHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"subjects":           h.store.SubjectCount(),
		"active_generations": h.admission.Count(),
		"flushes":            h.writer.Flushes(),
	})
}

// Flush handles POST /api/v1/state/flush
func (h *StateHandler) Flush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.writer.Flush(ctx); err != nil {
		h.logger.Warn("manual flush did not complete", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "flush did not complete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
