package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaClient implements Client against a local Ollama daemon, for running
// generation against open-source models without an API key.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates an Ollama-backed completion client.
// hostURL defaults to the standard local daemon address.
func NewOllamaClient(hostURL, model string) *OllamaClient {
	if hostURL == "" {
		hostURL = defaultOllamaHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse(defaultOllamaHost)
	}
	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// ModelName returns the configured model identifier.
func (c *OllamaClient) ModelName() string {
	return c.model
}

// Complete implements the Client interface. Ollama has no multi-sample
// parameter, so samples are drawn sequentially.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (Response, error) {
	if req.N < 1 {
		return Response{}, NewError(ErrorTypeBadPrompt, "sample count must be >= 1")
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": maxTokens,
		},
	}

	var samples []string
	var usage Usage
	for i := 0; i < req.N; i++ {
		var content strings.Builder
		var lastResp api.ChatResponse
		err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			content.WriteString(resp.Message.Content)
			lastResp = resp
			return nil
		})
		if err != nil {
			return Response{}, WrapError(ClassifyMessage(err.Error()), "ollama completion failed", err)
		}
		if content.Len() == 0 {
			return Response{}, NewError(ErrorTypeEmptyResponse, "ollama returned empty content")
		}

		samples = append(samples, content.String())
		usage.PromptTokens += int64(lastResp.Metrics.PromptEvalCount)
		usage.CompletionTokens += int64(lastResp.Metrics.EvalCount)
	}

	return Response{Samples: samples, Usage: usage}, nil
}
