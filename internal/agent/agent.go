// Package agent routes normalized inbound platform events to the generation
// machinery: it decides whether a message deserves a reply, resolves the
// conversation thread, uploads attachments, and dispatches media commands.
package agent

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/backend"
	"github.com/harmonia-ai/muse/internal/delivery"
	"github.com/harmonia-ai/muse/internal/llm"
	"github.com/harmonia-ai/muse/internal/model"
	"github.com/harmonia-ai/muse/internal/platform"
	"github.com/harmonia-ai/muse/internal/state"
	"github.com/harmonia-ai/muse/pkg/logger"
)

// Agent ties inbound events to the delivery machine.
type Agent struct {
	machine   *delivery.Machine
	store     *state.Store
	messenger platform.Messenger
	uploader  llm.FileUploader
	logger    *logger.Logger
}

// New creates an agent. uploader may be nil when the text provider does not
// accept binary attachments.
func New(machine *delivery.Machine, store *state.Store, messenger platform.Messenger, uploader llm.FileUploader, log *logger.Logger) *Agent {
	return &Agent{
		machine:   machine,
		store:     store,
		messenger: messenger,
		uploader:  uploader,
		logger:    log,
	}
}

// shouldRespond applies the listening rules: direct messages and mentions
// always get a reply; otherwise the channel must carry an always-respond
// flag. Blacklisted subjects never get one.
func (a *Agent) shouldRespond(msg model.InboundMessage) bool {
	if a.store.Blacklisted(msg.GuildID, msg.SubjectID) {
		return false
	}
	if msg.IsDirect || msg.MentionsAgent {
		return true
	}
	return a.store.AlwaysRespond(msg.ChannelID)
}

// threadKey resolves which conversation thread the message belongs to. In a
// shared-history channel every participant writes to one channel-keyed
// thread; otherwise each subject keeps a thread per channel.
func (a *Agent) threadKey(msg model.InboundMessage) (subjectID, threadID string) {
	if a.store.SharedHistory(msg.ChannelID) {
		return msg.ChannelID, "shared"
	}
	return msg.SubjectID, msg.ChannelID
}

// HandleMessage processes one normalized inbound message.
func (a *Agent) HandleMessage(ctx context.Context, msg model.InboundMessage) {
	if !a.shouldRespond(msg) {
		return
	}

	subjectID, threadID := a.threadKey(msg)
	req := delivery.TextRequest{
		SubjectID:   subjectID,
		ChannelID:   msg.ChannelID,
		ThreadID:    threadID,
		GuildID:     msg.GuildID,
		Prompt:      msg.Text,
		Attachments: a.uploadAttachments(ctx, msg.Attachments),
	}

	err := a.machine.Respond(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrBusy):
		if _, sendErr := a.messenger.Send(ctx, msg.ChannelID, platform.Draft{
			Text: "Please wait for your current generation to finish.",
		}); sendErr != nil {
			a.logger.Debug("busy notice failed", zap.Error(sendErr))
		}
	default:
		a.logger.Error("text generation failed",
			zap.String("subject", subjectID), zap.Error(err))
	}
}

// uploadAttachments pushes message attachments to the provider file store
// and returns the resulting references. Failures are logged and skipped; a
// reply without an attachment beats no reply.
func (a *Agent) uploadAttachments(ctx context.Context, attachments []model.Attachment) []model.ContentPart {
	if a.uploader == nil || len(attachments) == 0 {
		return nil
	}
	var parts []model.ContentPart
	for _, att := range attachments {
		resp, err := http.Get(att.URL)
		if err != nil {
			a.logger.Warn("attachment fetch failed", zap.String("name", att.Name), zap.Error(err))
			continue
		}
		uploaded, err := a.uploader.Upload(ctx, resp.Body, att.Name, att.MimeType)
		resp.Body.Close()
		if err != nil {
			a.logger.Warn("attachment upload failed", zap.String("name", att.Name), zap.Error(err))
			continue
		}
		parts = append(parts, model.FilePart(uploaded.URI, uploaded.MimeType))
	}
	return parts
}

// HandleInteraction processes a command or component interaction.
func (a *Agent) HandleInteraction(ctx context.Context, in model.InboundInteraction) {
	switch in.ControlID {
	case "imagine", "speak", "compose":
		a.handleMediaCommand(ctx, in)
	case "reset":
		_, threadID := a.threadKey(model.InboundMessage{SubjectID: in.SubjectID, ChannelID: in.ChannelID})
		a.store.ClearThread(in.SubjectID, threadID)
	case "format":
		if f := in.Options["format"]; f == string(model.FormatPlain) {
			a.store.SetResponseFormat(in.SubjectID, model.FormatPlain)
		} else {
			a.store.SetResponseFormat(in.SubjectID, model.FormatRich)
		}
	case "instructions":
		a.store.SetCustomInstruction(in.SubjectID, in.Options["text"])
	default:
		a.logger.Debug("unhandled interaction", zap.String("control", in.ControlID))
	}
}

func (a *Agent) handleMediaCommand(ctx context.Context, in model.InboundInteraction) {
	name := in.Options["backend"]
	if name == "" {
		switch in.ControlID {
		case "speak":
			name = "aria"
		case "compose":
			name = "cadence"
		default:
			name = "crystal"
		}
	}

	req := delivery.MediaRequest{
		SubjectID: in.SubjectID,
		ChannelID: in.ChannelID,
		Backend:   name,
		Prompt:    in.Options["prompt"],
		Params: backend.Params{
			Resolution: backend.Resolution(in.Options["resolution"]),
			Voice:      in.Options["voice"],
		},
	}
	if req.Params.Resolution == "" {
		req.Params.Resolution = backend.Square
	}
	if d, err := strconv.Atoi(in.Options["duration"]); err == nil {
		req.Params.Duration = d
	}

	err := a.machine.Generate(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrBusy):
		if _, sendErr := a.messenger.Send(ctx, in.ChannelID, platform.Draft{
			Text: "Please wait for your current generation to finish.",
		}); sendErr != nil {
			a.logger.Debug("busy notice failed", zap.Error(sendErr))
		}
	default:
		a.logger.Error("media generation failed",
			zap.String("subject", in.SubjectID), zap.String("backend", req.Backend), zap.Error(err))
	}
}
