package platform

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/harmonia-ai/muse/internal/model"
)

// NormalizeMessage converts a discordgo message event into the platform-neutral
// form. Returns false for messages the agent should never see: its own, other
// bots', and empty system events.
func NormalizeMessage(s *discordgo.Session, m *discordgo.MessageCreate) (model.InboundMessage, bool) {
	if m.Author == nil || m.Author.Bot {
		return model.InboundMessage{}, false
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return model.InboundMessage{}, false
	}

	text := m.Content
	mentions := false
	if s.State != nil && s.State.User != nil {
		selfID := s.State.User.ID
		for _, u := range m.Mentions {
			if u.ID == selfID {
				mentions = true
				break
			}
		}
		// Strip the leading mention so prompts read naturally.
		text = strings.TrimSpace(strings.ReplaceAll(text, "<@"+selfID+">", ""))
	}

	if text == "" && len(m.Attachments) == 0 {
		return model.InboundMessage{}, false
	}

	msg := model.InboundMessage{
		SubjectID:     m.Author.ID,
		ChannelID:     m.ChannelID,
		GuildID:       m.GuildID,
		IsDirect:      m.GuildID == "",
		Text:          text,
		MentionsAgent: mentions,
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			Name:     att.Filename,
			URL:      att.URL,
			MimeType: att.ContentType,
			Size:     int64(att.Size),
		})
	}
	return msg, true
}

// NormalizeCommand converts an application-command interaction into the
// platform-neutral form.
func NormalizeCommand(i *discordgo.InteractionCreate) (model.InboundInteraction, bool) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return model.InboundInteraction{}, false
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}
	if userID == "" {
		return model.InboundInteraction{}, false
	}

	data := i.ApplicationCommandData()
	opts := make(map[string]string, len(data.Options))
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			opts[opt.Name] = opt.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			opts[opt.Name] = strconv.FormatInt(opt.IntValue(), 10)
		}
	}

	return model.InboundInteraction{
		SubjectID: userID,
		ChannelID: i.ChannelID,
		ControlID: data.Name,
		Options:   opts,
	}, true
}
