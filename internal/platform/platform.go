// Package platform defines the outbound messaging interface the core
// consumes, plus the Discord implementation. The core never touches the chat
// platform SDK directly; delivery tests substitute a double.
package platform

import (
	"context"
	"io"
)

// Handle identifies one outbound message for subsequent edits.
type Handle struct {
	ChannelID string
	MessageID string
}

// Draft is the desired content of an outbound message. When Rich is set the
// text renders as an embed description; otherwise as plain content.
type Draft struct {
	Text string
	Rich bool
	// Footer is an optional small trailer line (citation counts, notices).
	Footer string
}

// Messenger creates and updates outbound messages.
type Messenger interface {
	// Send creates a message and returns a handle for later edits.
	Send(ctx context.Context, channelID string, d Draft) (Handle, error)

	// Edit replaces the content of an existing message.
	Edit(ctx context.Context, h Handle, d Draft) error

	// SendFile delivers a file attachment to the channel.
	SendFile(ctx context.Context, channelID, name string, r io.Reader) error

	// AttachCancel attaches a cancellation control to the message, honored
	// only for the given requester. The returned channel is closed when the
	// control is activated; detach removes the control and stops listening.
	AttachCancel(ctx context.Context, h Handle, requesterID string) (<-chan struct{}, func(), error)
}
