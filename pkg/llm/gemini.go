package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient implements Client using the Google GenAI SDK. Multiple samples
// are requested through the API's candidate count.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a Gemini-backed completion client. The underlying
// SDK client needs a context, so it is created lazily on first use.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

// ModelName returns the configured model identifier.
func (c *GeminiClient) ModelName() string {
	return c.model
}

// Complete implements the Client interface.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	if req.N < 1 {
		return Response{}, NewError(ErrorTypeBadPrompt, "sample count must be >= 1")
	}

	if c.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return Response{}, WrapError(ErrorTypeAuth, "failed to create gemini client", err)
		}
		c.client = client
	}

	var systemParts []string
	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	//nolint:gosec // Sample counts and token limits are small, no overflow risk
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(maxTokens),
		CandidateCount:  int32(req.N),
	}
	if len(systemParts) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return Response{}, WrapError(ClassifyMessage(err.Error()), "gemini completion failed", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return Response{}, NewError(ErrorTypeEmptyResponse, "gemini returned no candidates")
	}

	samples := make([]string, 0, len(result.Candidates))
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		samples = append(samples, text.String())
	}
	if len(samples) == 0 {
		return Response{}, NewError(ErrorTypeEmptyResponse, "no text content in gemini candidates")
	}

	var usage Usage
	if result.UsageMetadata != nil {
		usage.PromptTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int64(result.UsageMetadata.CandidatesTokenCount)
	}

	return Response{Samples: samples, Usage: usage}, nil
}
