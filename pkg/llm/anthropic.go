package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client using the official Anthropic SDK. The
// messages API has no n parameter, so multi-sample requests issue sequential
// calls.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates a Claude-backed completion client.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ModelName returns the configured model identifier.
func (c *AnthropicClient) ModelName() string {
	return string(c.model)
}

// ensureAlternation prepares messages for the Anthropic API: system messages
// are extracted to the top-level system parameter and consecutive user turns
// are merged so the sequence strictly alternates user/assistant.
func ensureAlternation(messages Conversation) (systemPrompt string, alternating Conversation, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var userParts []string
	var merged Conversation

	flushUser := func() {
		if len(userParts) > 0 {
			merged = append(merged, UserMessage(strings.Join(userParts, "\n\n")))
			userParts = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case RoleAssistant:
			flushUser()
			merged = append(merged, msg)
		default:
			userParts = append(userParts, msg.Content)
		}
	}
	flushUser()

	if len(merged) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if merged[0].Role != RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, merged[i].Role)
		}
	}

	return strings.Join(systemParts, "\n\n"), merged, nil
}

// Complete implements the Client interface.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	if req.N < 1 {
		return Response{}, NewError(ErrorTypeBadPrompt, "sample count must be >= 1")
	}

	systemPrompt, alternating, err := ensureAlternation(req.Messages)
	if err != nil {
		return Response{}, WrapError(ErrorTypeBadPrompt, "message alternation error", err)
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for _, msg := range alternating {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}

	var samples []string
	var usage Usage
	for i := 0; i < req.N; i++ {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return Response{}, classifyAnthropicError(err)
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return Response{}, NewError(ErrorTypeEmptyResponse, "no text content in completion")
		}

		samples = append(samples, text.String())
		usage.PromptTokens += resp.Usage.InputTokens
		usage.CompletionTokens += resp.Usage.OutputTokens
	}

	return Response{Samples: samples, Usage: usage}, nil
}

func classifyAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return WrapError(ClassifyHTTPStatus(apierr.StatusCode), "anthropic completion failed", err)
	}
	return WrapError(ClassifyMessage(err.Error()), "anthropic completion failed", err)
}
