// Package model defines data structures for the generation agent.
package model

import (
	"time"
)

// Role represents the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one element of a turn's content. Exactly one of Text or
// FileURI is set; a part with neither is considered empty and is dropped
// during purge.
type ContentPart struct {
	Text     string     `json:"text,omitempty"`
	FileURI  string     `json:"file_uri,omitempty"`
	MimeType string     `json:"mime_type,omitempty"`
	AddedAt  *time.Time `json:"added_at,omitempty"`
}

// IsEmpty reports whether the part carries no content.
func (p ContentPart) IsEmpty() bool {
	return p.Text == "" && p.FileURI == ""
}

// TextPart builds a text-only content part.
func TextPart(text string) ContentPart {
	return ContentPart{Text: text}
}

// FilePart builds a remote-file reference part.
func FilePart(uri, mimeType string) ContentPart {
	now := time.Now()
	return ContentPart{FileURI: uri, MimeType: mimeType, AddedAt: &now}
}

// Turn is one message in a conversation thread.
type Turn struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// Text concatenates the textual parts of the turn.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		out += p.Text
	}
	return out
}

// SubjectHistory holds every thread belonging to one subject. It is the unit
// of persistence: one file per subject.
type SubjectHistory struct {
	Version int               `json:"version"`
	Threads map[string][]Turn `json:"threads"`
}

// NewSubjectHistory returns an empty history at the current schema version.
func NewSubjectHistory() *SubjectHistory {
	return &SubjectHistory{Version: SchemaVersion, Threads: map[string][]Turn{}}
}

// SchemaVersion is written into every persisted file so the format can
// evolve without guessing.
const SchemaVersion = 1

// ResponseFormat is a subject's display preference for streamed replies.
type ResponseFormat string

const (
	// FormatRich renders replies inside an embed.
	FormatRich ResponseFormat = "rich"
	// FormatPlain renders replies as plain message content.
	FormatPlain ResponseFormat = "plain"
)
