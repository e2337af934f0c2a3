package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client using the official OpenAI Go SDK. It is the
// only provider with native multi-sample support (the chat API's n parameter),
// so multi-sample requests cost a single round trip.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-backed completion client.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ModelName returns the configured model identifier.
func (c *OpenAIClient) ModelName() string {
	return c.model
}

// Complete implements the Client interface.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	if req.N < 1 {
		return Response{}, NewError(ErrorTypeBadPrompt, "sample count must be >= 1")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return Response{}, NewError(ErrorTypeBadPrompt, fmt.Sprintf("unsupported role: %s", msg.Role))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		Temperature:         openai.Float(float64(req.Temperature)),
		N:                   openai.Int(int64(req.N)),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, NewError(ErrorTypeEmptyResponse, "completion returned no choices")
	}

	samples := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		samples = append(samples, choice.Message.Content)
	}

	return Response{
		Samples: samples,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func classifyOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return WrapError(ClassifyHTTPStatus(apierr.StatusCode), "openai completion failed", err)
	}
	return WrapError(ClassifyMessage(err.Error()), "openai completion failed", err)
}
