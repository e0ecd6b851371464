package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/genai"

	"github.com/harmonia-ai/muse/internal/model"
)

// GeminiClient is the Gemini text-generation client. It also owns binary
// attachment uploads, which on this provider go through an async file store:
// an uploaded asset may report a processing state and must be re-queried
// until it turns terminal.
type GeminiClient struct {
	client *genai.Client

	// PollInterval and PollDeadline bound the upload state poll loop.
	PollInterval time.Duration
	PollDeadline time.Duration
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		PollInterval: 5 * time.Second,
		PollDeadline: 2 * time.Minute,
	}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Models returns available models.
func (c *GeminiClient) Models() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	}
}

func (c *GeminiClient) convert(req *CompletionRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	modelName := req.Model
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	contents := make([]*genai.Content, 0, len(req.History))
	for _, turn := range req.History {
		role := genai.RoleUser
		if turn.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			switch {
			case p.Text != "":
				parts = append(parts, &genai.Part{Text: p.Text})
			case p.FileURI != "":
				parts = append(parts, genai.NewPartFromURI(p.FileURI, p.MimeType))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		},
	}
	if req.Temperature != 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return modelName, contents, cfg
}

// Complete sends a completion request.
func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	modelName, contents, cfg := c.convert(req)

	resp, err := c.client.Models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("gemini: no candidates")
	}

	cand := resp.Candidates[0]
	var content string
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			content += p.Text
		}
	}

	out := &CompletionResponse{
		Content:    content,
		Grounding:  convertGrounding(cand.GroundingMetadata),
		Model:      modelName,
		StopReason: string(cand.FinishReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// CompleteStream sends a streaming completion request.
func (c *GeminiClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	modelName, contents, cfg := c.convert(req)

	var content string
	var grounding *GroundingMetadata
	var stopReason string
	var tokensIn, tokensOut int

	for chunk, err := range c.client.Models.GenerateContentStream(ctx, modelName, contents, cfg) {
		if err != nil {
			return nil, err
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.FinishReason != "" {
			stopReason = string(cand.FinishReason)
		}
		if meta := convertGrounding(cand.GroundingMetadata); meta != nil {
			grounding = meta
		}
		if chunk.UsageMetadata != nil {
			tokensIn = int(chunk.UsageMetadata.PromptTokenCount)
			tokensOut = int(chunk.UsageMetadata.CandidatesTokenCount)
		}
		if cand.Content == nil {
			continue
		}
		var text string
		for _, p := range cand.Content.Parts {
			text += p.Text
		}
		if text == "" {
			continue
		}
		content += text
		if err := callback(text, convertGrounding(cand.GroundingMetadata)); err != nil {
			return nil, err
		}
	}

	return &CompletionResponse{
		Content:    content,
		Grounding:  grounding,
		Model:      modelName,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func convertGrounding(gm *genai.GroundingMetadata) *GroundingMetadata {
	if gm == nil {
		return nil
	}
	out := &GroundingMetadata{SearchQueries: gm.WebSearchQueries}
	for _, chunk := range gm.GroundingChunks {
		if chunk.Web != nil && chunk.Web.URI != "" {
			out.Sources = append(out.Sources, GroundingSource{
				Title: chunk.Web.Title,
				URI:   chunk.Web.URI,
			})
		}
	}
	if len(out.Sources) == 0 && len(out.SearchQueries) == 0 {
		return nil
	}
	return out
}

// Upload sends a binary asset to the provider's file store and polls its
// state on a fixed interval until it is ready for prompting. The loop is
// bounded by PollDeadline; a still-processing asset past the deadline is an
// error rather than an unbounded wait.
func (c *GeminiClient) Upload(ctx context.Context, r io.Reader, name, mimeType string) (*UploadedFile, error) {
	file, err := c.client.Files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: name,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini upload: %w", err)
	}

	deadline := time.Now().Add(c.PollDeadline)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("gemini upload: %s still processing after %s", file.Name, c.PollDeadline)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.PollInterval):
		}
		file, err = c.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("gemini upload poll: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("gemini upload: processing failed for %s", file.Name)
	}

	return &UploadedFile{URI: file.URI, MimeType: mimeType}, nil
}
