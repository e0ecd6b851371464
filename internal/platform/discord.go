package platform

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/pkg/logger"
)

// cancelWindow bounds how long a cancellation control stays active after the
// message is created.
const cancelWindow = 10 * time.Minute

const cancelCustomID = "muse:cancel"

// Discord implements Messenger over a discordgo session.
type Discord struct {
	session *discordgo.Session
	logger  *logger.Logger

	mu      sync.Mutex
	cancels map[string]*cancelEntry
}

type cancelEntry struct {
	requesterID string
	expires     time.Time
	ch          chan struct{}
	once        sync.Once
}

// NewDiscord wraps an open discordgo session.
func NewDiscord(session *discordgo.Session, log *logger.Logger) *Discord {
	d := &Discord{
		session: session,
		logger:  log,
		cancels: map[string]*cancelEntry{},
	}
	session.AddHandler(d.onInteraction)
	return d
}

func draftMessage(d Draft) (string, []*discordgo.MessageEmbed) {
	if d.Rich {
		embed := &discordgo.MessageEmbed{Description: d.Text}
		if d.Footer != "" {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: d.Footer}
		}
		return "", []*discordgo.MessageEmbed{embed}
	}
	text := d.Text
	if d.Footer != "" {
		text += "\n-# " + d.Footer
	}
	return text, nil
}

// Send creates a message in the channel.
func (d *Discord) Send(ctx context.Context, channelID string, draft Draft) (Handle, error) {
	content, embeds := draftMessage(draft)
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Embeds:  embeds,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return Handle{}, fmt.Errorf("discord send: %w", err)
	}
	return Handle{ChannelID: channelID, MessageID: msg.ID}, nil
}

// Edit replaces the message content.
func (d *Discord) Edit(ctx context.Context, h Handle, draft Draft) error {
	content, embeds := draftMessage(draft)
	edit := discordgo.NewMessageEdit(h.ChannelID, h.MessageID)
	edit.SetContent(content)
	edit.Embeds = &embeds
	if _, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord edit: %w", err)
	}
	return nil
}

// SendFile delivers a file attachment.
func (d *Discord) SendFile(ctx context.Context, channelID, name string, r io.Reader) error {
	_, err := d.session.ChannelFileSend(channelID, name, r, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord file send: %w", err)
	}
	return nil
}

// AttachCancel adds a stop button to the message. Only the requester may
// activate it, and only within the cancel window.
func (d *Discord) AttachCancel(ctx context.Context, h Handle, requesterID string) (<-chan struct{}, func(), error) {
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Stop",
					Style:    discordgo.DangerButton,
					CustomID: cancelCustomID,
				},
			},
		},
	}
	edit := discordgo.NewMessageEdit(h.ChannelID, h.MessageID)
	edit.Components = &components
	if _, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return nil, nil, fmt.Errorf("discord attach cancel: %w", err)
	}

	entry := &cancelEntry{
		requesterID: requesterID,
		expires:     time.Now().Add(cancelWindow),
		ch:          make(chan struct{}),
	}
	d.mu.Lock()
	d.cancels[h.MessageID] = entry
	d.mu.Unlock()

	detach := func() {
		d.mu.Lock()
		delete(d.cancels, h.MessageID)
		d.mu.Unlock()
		none := []discordgo.MessageComponent{}
		strip := discordgo.NewMessageEdit(h.ChannelID, h.MessageID)
		strip.Components = &none
		if _, err := d.session.ChannelMessageEditComplex(strip); err != nil {
			d.logger.Debug("strip cancel control failed", zap.String("message", h.MessageID), zap.Error(err))
		}
	}
	return entry.ch, detach, nil
}

func (d *Discord) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if i.MessageComponentData().CustomID != cancelCustomID || i.Message == nil {
		return
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}

	d.mu.Lock()
	entry, ok := d.cancels[i.Message.ID]
	d.mu.Unlock()
	if !ok || userID != entry.requesterID || time.Now().After(entry.expires) {
		return
	}

	entry.once.Do(func() { close(entry.ch) })
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		d.logger.Debug("cancel ack failed", zap.Error(err))
	}
}
