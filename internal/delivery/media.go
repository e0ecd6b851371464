package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/backend"
	"github.com/harmonia-ai/muse/internal/model"
	"github.com/harmonia-ai/muse/internal/platform"
	"github.com/harmonia-ai/muse/pkg/metrics"
)

// MediaRequest is one media generation to run on a named backend.
type MediaRequest struct {
	SubjectID string
	ChannelID string
	Backend   string
	Prompt    string
	Params    backend.Params
}

// Generate runs a media job through its backend adapter and delivers the
// result location. It shares the text path's admission, cancellation and
// retry semantics; nothing is persisted for media jobs.
func (m *Machine) Generate(ctx context.Context, req MediaRequest) error {
	b, ok := m.backends.Get(req.Backend)
	if !ok {
		return fmt.Errorf("unknown backend %q", req.Backend)
	}

	if !m.admission.TryAdmit(req.SubjectID) {
		return ErrBusy
	}
	held := true
	defer func() {
		if held {
			m.admission.Release(req.SubjectID)
		}
	}()

	start := time.Now()
	m.events.Publish(model.GenerationEvent{
		SubjectID: req.SubjectID, ChannelID: req.ChannelID,
		Backend: b.Name(), Kind: model.GenerationStarted,
	})

	run := func(ctx context.Context, attempt int) error {
		return m.mediaAttempt(ctx, req, b)
	}
	attempts, err := m.attemptLoop(ctx, req.SubjectID, req.ChannelID, b.Name(), &held, run)

	duration := time.Since(start)
	switch {
	case err == nil:
		metrics.RecordGeneration(b.Name(), "success", attempts, duration.Seconds())
		m.events.Publish(model.GenerationEvent{
			SubjectID: req.SubjectID, ChannelID: req.ChannelID,
			Backend: b.Name(), Kind: model.GenerationCompleted,
			Attempt: attempts, Duration: duration,
		})
		return nil
	case errors.Is(err, errCancelled):
		metrics.CancelledGenerations.Inc()
		metrics.RecordGeneration(b.Name(), "cancelled", attempts, duration.Seconds())
		m.events.Publish(model.GenerationEvent{
			SubjectID: req.SubjectID, ChannelID: req.ChannelID,
			Backend: b.Name(), Kind: model.GenerationCancelled,
			Attempt: attempts, Duration: duration,
		})
		return nil
	default:
		metrics.RecordGeneration(b.Name(), "failure", attempts, duration.Seconds())
		m.events.Publish(model.GenerationEvent{
			SubjectID: req.SubjectID, ChannelID: req.ChannelID,
			Backend: b.Name(), Kind: model.GenerationFailed,
			Attempt: attempts, Duration: duration, Error: err.Error(),
		})
		m.notifyFailure(ctx, req.ChannelID, err)
		return err
	}
}

func (m *Machine) mediaAttempt(ctx context.Context, req MediaRequest, b backend.Backend) error {
	handle, err := m.messenger.Send(ctx, req.ChannelID, platform.Draft{
		Text: fmt.Sprintf("Generating %s with %s…", b.Kind(), b.Name()),
	})
	if err != nil {
		return fmt.Errorf("create placeholder: %w", err)
	}

	cancelCh, detach, err := m.messenger.AttachCancel(ctx, handle, req.SubjectID)
	if err != nil {
		m.logger.Warn("cancel control unavailable", zap.Error(err))
		cancelCh = nil
		detach = func() {}
	}
	defer detach()

	type outcome struct {
		location string
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		location, err := b.Generate(ctx, req.Prompt, req.Params)
		done <- outcome{location, err}
	}()

	// Cancellation is cooperative: the in-flight job is not aborted, its
	// result is discarded when it arrives.
	select {
	case <-cancelCh:
		if err := m.messenger.Edit(ctx, handle, platform.Draft{Text: "Generation cancelled."}); err != nil {
			m.logger.Debug("cancel notice failed", zap.Error(err))
		}
		return errCancelled
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		if err := m.messenger.Edit(ctx, handle, platform.Draft{Text: out.location}); err != nil {
			return fmt.Errorf("deliver result: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
