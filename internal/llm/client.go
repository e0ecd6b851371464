// Package llm provides text-generation client interfaces and implementations.
package llm

import (
	"context"
	"io"

	"github.com/harmonia-ai/muse/internal/model"
)

// GroundingSource is one citation attached to a streamed increment.
type GroundingSource struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// GroundingMetadata is citation/search metadata a provider may attach to any
// increment of a streamed response. The delivery layer retains the latest
// one it sees.
type GroundingMetadata struct {
	Sources       []GroundingSource
	SearchQueries []string
}

// StreamCallback is called for each text increment during streaming. Meta is
// nil unless the provider attached grounding metadata to this increment.
// Returning an error stops the stream and propagates to the caller.
type StreamCallback func(chunk string, meta *GroundingMetadata) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	History      []model.Turn
	MaxTokens    int
	Temperature  float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Grounding  *GroundingMetadata
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// UploadedFile describes a binary asset uploaded to a provider.
type UploadedFile struct {
	URI      string
	MimeType string
}

// Client is the interface for text-generation providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// FileUploader is implemented by providers that accept binary attachments.
// Upload blocks until the provider reports the asset terminal: ready for
// prompting, or failed.
type FileUploader interface {
	Upload(ctx context.Context, r io.Reader, name, mimeType string) (*UploadedFile, error)
}

// Provider is the type of text-generation provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new text-generation client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderGemini:
		return NewGeminiClient(apiKey)
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewGeminiClient(apiKey)
	}
}
