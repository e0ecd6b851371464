// Package delivery runs the response lifecycle for one generation request:
// admission, streaming accumulation with throttled display refreshes,
// overflow fallback to file delivery, user cancellation, bounded retries,
// and history persistence on success.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/admission"
	"github.com/harmonia-ai/muse/internal/backend"
	"github.com/harmonia-ai/muse/internal/events"
	"github.com/harmonia-ai/muse/internal/llm"
	"github.com/harmonia-ai/muse/internal/model"
	"github.com/harmonia-ai/muse/internal/platform"
	"github.com/harmonia-ai/muse/internal/state"
	"github.com/harmonia-ai/muse/pkg/logger"
	"github.com/harmonia-ai/muse/pkg/metrics"
)

// Overflow thresholds in characters, by display preference. Rich replies
// render in an embed description; plain replies as message content.
const (
	OverflowRich  = 4096
	OverflowPlain = 2000
)

// ErrBusy signals that the subject already has a generation in flight. The
// caller declines the request with a "please wait" notice; it is not queued.
var ErrBusy = errors.New("subject already has a generation in flight")

// errCancelled aborts the attempt from inside the stream callback when the
// requester activates the cancellation control.
var errCancelled = errors.New("cancelled by requester")

const placeholderText = "…"

// Config tunes the delivery machine.
type Config struct {
	RefreshInterval time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	// SurfaceIntermediateErrors controls whether non-final attempt failures
	// are shown to the user; the final failure is always shown.
	SurfaceIntermediateErrors bool
	// VerboseErrors includes raw error detail in user-facing notices.
	VerboseErrors bool
}

// Machine coordinates one subject's generation requests end to end.
type Machine struct {
	messenger platform.Messenger
	store     *state.Store
	writer    *state.Writer
	admission *admission.Controller
	client    llm.Client
	backends  *backend.Registry
	events    *events.Publisher
	cfg       Config
	logger    *logger.Logger
}

// NewMachine wires the delivery machine. The events publisher may be nil.
func NewMachine(
	messenger platform.Messenger,
	store *state.Store,
	writer *state.Writer,
	adm *admission.Controller,
	client llm.Client,
	backends *backend.Registry,
	pub *events.Publisher,
	cfg Config,
	log *logger.Logger,
) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Machine{
		messenger: messenger,
		store:     store,
		writer:    writer,
		admission: adm,
		client:    client,
		backends:  backends,
		events:    pub,
		cfg:       cfg,
		logger:    log,
	}
}

// TextRequest is one inbound chat message to answer.
type TextRequest struct {
	SubjectID string
	ChannelID string
	ThreadID  string
	GuildID   string
	Prompt    string
	// Attachments are provider file references already uploaded.
	Attachments []model.ContentPart
	ModelName   string
}

// Respond streams a text reply for the request. It returns ErrBusy without
// side effects when the subject already has a generation in flight.
func (m *Machine) Respond(ctx context.Context, req TextRequest) error {
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
		Backend: m.client.Name(), Kind: model.GenerationStarted,
	})

	run := func(ctx context.Context, attempt int) error {
		return m.textAttempt(ctx, req)
	}
	attempts, err := m.attemptLoop(ctx, req.SubjectID, req.ChannelID, m.client.Name(), &held, run)

	duration := time.Since(start)
	switch {
	case err == nil:
		metrics.RecordGeneration(m.client.Name(), "success", attempts, duration.Seconds())
		m.events.Publish(model.GenerationEvent{
			SubjectID: req.SubjectID, ChannelID: req.ChannelID,
			Backend: m.client.Name(), Kind: model.GenerationCompleted,
			Attempt: attempts, Duration: duration,
		})
		return nil
	case errors.Is(err, errCancelled):
		metrics.CancelledGenerations.Inc()
		metrics.RecordGeneration(m.client.Name(), "cancelled", attempts, duration.Seconds())
		m.events.Publish(model.GenerationEvent{
			SubjectID: req.SubjectID, ChannelID: req.ChannelID,
			Backend: m.client.Name(), Kind: model.GenerationCancelled,
			Attempt: attempts, Duration: duration,
		})
		return nil
	default:
		metrics.RecordGeneration(m.client.Name(), "failure", attempts, duration.Seconds())
		m.events.Publish(model.GenerationEvent{
			SubjectID: req.SubjectID, ChannelID: req.ChannelID,
			Backend: m.client.Name(), Kind: model.GenerationFailed,
			Attempt: attempts, Duration: duration, Error: err.Error(),
		})
		m.notifyFailure(ctx, req.ChannelID, err)
		return err
	}
}

// attemptLoop runs fn up to the attempt budget. Between attempts admission
// is released and re-acquired so the subject is not locked out during the
// backoff wait; held tracks whether the caller's admission entry is live so
// its deferred release never frees an entry belonging to a newer request.
// Cancellation is never retried.
func (m *Machine) attemptLoop(
	ctx context.Context,
	subjectID, channelID, backendName string,
	held *bool,
	fn func(ctx context.Context, attempt int) error,
) (int, error) {
	bo := backoff.NewConstantBackOff(m.cfg.RetryDelay)

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil || errors.Is(err, errCancelled) {
			return attempt, err
		}
		lastErr = err
		m.logger.Warn("generation attempt failed",
			zap.String("subject", subjectID),
			zap.String("backend", backendName),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == m.cfg.MaxAttempts {
			break
		}
		if m.cfg.SurfaceIntermediateErrors {
			m.notify(ctx, channelID, fmt.Sprintf("Attempt %d failed, retrying…", attempt))
		}

		// Symmetric release/re-admit around the backoff wait.
		m.admission.Release(subjectID)
		*held = false
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
		if !m.admission.TryAdmit(subjectID) {
			return attempt, ErrBusy
		}
		*held = true
	}
	return m.cfg.MaxAttempts, lastErr
}

// textAttempt runs one full streaming attempt: placeholder message, throttled
// accumulation, overflow handling, finalization and persistence.
func (m *Machine) textAttempt(ctx context.Context, req TextRequest) error {
	format := m.store.ResponseFormat(req.SubjectID)
	rich := format == model.FormatRich
	threshold := OverflowPlain
	if rich {
		threshold = OverflowRich
	}

	handle, err := m.messenger.Send(ctx, req.ChannelID, platform.Draft{Text: placeholderText, Rich: rich})
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

	var mu sync.Mutex
	var acc strings.Builder
	var latestMeta *llm.GroundingMetadata
	overflowed := false

	refresh := newThrottle(m.cfg.RefreshInterval, func() {
		mu.Lock()
		if overflowed {
			mu.Unlock()
			return
		}
		text := acc.String()
		mu.Unlock()
		if text == "" {
			return
		}
		if err := m.messenger.Edit(ctx, handle, platform.Draft{Text: text, Rich: rich}); err != nil {
			m.logger.Debug("display refresh failed", zap.Error(err))
			return
		}
		metrics.DisplayRefreshes.Inc()
	})
	defer refresh.Stop()

	userTurn := model.Turn{Role: model.RoleUser, Parts: append([]model.ContentPart{model.TextPart(req.Prompt)}, req.Attachments...)}
	history := append(m.store.Thread(req.SubjectID, req.ThreadID), userTurn)

	guild := m.store.GuildSettings(req.GuildID)
	creq := &llm.CompletionRequest{
		Model:        req.ModelName,
		SystemPrompt: m.systemPrompt(req, guild),
		History:      history,
	}

	resp, err := m.client.CompleteStream(ctx, creq, func(chunk string, meta *llm.GroundingMetadata) error {
		select {
		case <-cancelCh:
			return errCancelled
		default:
		}

		mu.Lock()
		acc.WriteString(chunk)
		if meta != nil {
			latestMeta = meta
		}
		justOverflowed := !overflowed && acc.Len() > threshold
		if justOverflowed {
			overflowed = true
		}
		silent := overflowed
		mu.Unlock()

		metrics.StreamTokensTotal.WithLabelValues(m.client.Name()).Inc()

		if justOverflowed {
			// One notice, then accumulate silently until stream end.
			refresh.Stop()
			if err := m.messenger.Edit(ctx, handle, platform.Draft{
				Text: "The response is too long to display; it will be delivered as a file.",
				Rich: rich,
			}); err != nil {
				m.logger.Debug("overflow notice failed", zap.Error(err))
			}
			return nil
		}
		if !silent {
			refresh.Trigger()
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, errCancelled) {
			// Partial output is discarded: no persistence, no delivery.
			refresh.Stop()
			if editErr := m.messenger.Edit(ctx, handle, platform.Draft{Text: "Generation cancelled.", Rich: rich}); editErr != nil {
				m.logger.Debug("cancel notice failed", zap.Error(editErr))
			}
			return errCancelled
		}
		return err
	}

	refresh.Stop()

	mu.Lock()
	final := acc.String()
	meta := latestMeta
	wasOverflowed := overflowed
	mu.Unlock()
	if resp.Grounding != nil {
		meta = resp.Grounding
	}
	if final == "" {
		final = resp.Content
	}

	if wasOverflowed {
		if err := m.messenger.SendFile(ctx, req.ChannelID, "response.txt", strings.NewReader(final)); err != nil {
			return fmt.Errorf("file delivery: %w", err)
		}
		metrics.OverflowDeliveries.Inc()
	} else {
		if err := m.messenger.Edit(ctx, handle, platform.Draft{
			Text:   final,
			Rich:   rich,
			Footer: groundingFooter(meta),
		}); err != nil {
			return fmt.Errorf("final display update: %w", err)
		}
	}

	// Success: record both turns under the lock, then schedule a flush.
	m.store.AppendTurns(req.SubjectID, req.ThreadID, userTurn,
		model.Turn{Role: model.RoleAssistant, Parts: []model.ContentPart{model.TextPart(final)}})
	if guild.MaxHistoryTurns > 0 {
		m.store.TrimThread(req.SubjectID, req.ThreadID, guild.MaxHistoryTurns)
	}
	m.writer.Save()
	return nil
}

func (m *Machine) systemPrompt(req TextRequest, guild model.GuildSettings) string {
	parts := []string{}
	if guild.SystemPrompt != "" {
		parts = append(parts, guild.SystemPrompt)
	}
	if custom := m.store.CustomInstruction(req.SubjectID); custom != "" {
		parts = append(parts, custom)
	}
	return strings.Join(parts, "\n\n")
}

func groundingFooter(meta *llm.GroundingMetadata) string {
	if meta == nil || len(meta.Sources) == 0 {
		return ""
	}
	titles := make([]string, 0, len(meta.Sources))
	for _, s := range meta.Sources {
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
		if len(titles) == 3 {
			break
		}
	}
	if len(titles) == 0 {
		return fmt.Sprintf("%d sources", len(meta.Sources))
	}
	return "Sources: " + strings.Join(titles, ", ")
}

func (m *Machine) notify(ctx context.Context, channelID, text string) {
	if _, err := m.messenger.Send(ctx, channelID, platform.Draft{Text: text}); err != nil {
		m.logger.Debug("notice failed", zap.Error(err))
	}
}

// notifyFailure surfaces the terminal failure. Raw detail is included only
// under the operator verbosity flag.
func (m *Machine) notifyFailure(ctx context.Context, channelID string, err error) {
	text := "Something went wrong generating a response. Please try again later."
	if m.cfg.VerboseErrors {
		text = fmt.Sprintf("%s\n`%v`", text, err)
	}
	m.notify(ctx, channelID, text)
}
