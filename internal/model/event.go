package model

import (
	"time"
)

// InboundMessage is a normalized chat message from the platform layer.
type InboundMessage struct {
	SubjectID     string
	ChannelID     string
	GuildID       string
	IsDirect      bool
	Text          string
	Attachments   []Attachment
	MentionsAgent bool
}

// Attachment is a file attached to an inbound message.
type Attachment struct {
	Name     string
	URL      string
	MimeType string
	Size     int64
}

// InboundInteraction is a normalized command or component interaction.
type InboundInteraction struct {
	SubjectID string
	ChannelID string
	ControlID string
	Options   map[string]string
}

// GenerationEvent is published for each lifecycle transition of a
// generation request.
type GenerationEvent struct {
	SubjectID  string        `json:"subject_id"`
	ChannelID  string        `json:"channel_id,omitempty"`
	Backend    string        `json:"backend,omitempty"`
	Kind       string        `json:"kind"`
	Attempt    int           `json:"attempt,omitempty"`
	Duration   time.Duration `json:"duration_ms,omitempty"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Generation event kinds.
const (
	GenerationStarted   = "started"
	GenerationCompleted = "completed"
	GenerationFailed    = "failed"
	GenerationCancelled = "cancelled"
)
