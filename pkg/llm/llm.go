// Package llm provides the completion-service abstraction the test generator
// depends on: a provider-neutral client interface, message types, and an error
// taxonomy with retry support. Provider implementations live in this package
// and are selected through the registry.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role identifies who authored a conversation message.
type Role string

const (
	// RoleSystem is the fixed task instruction.
	RoleSystem Role = "system"
	// RoleUser carries prompts and repair feedback.
	RoleUser Role = "user"
	// RoleAssistant carries model-generated candidates.
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered, append-only sequence of messages. It is owned by
// the iteration controller for the lifetime of one generation request and
// serialized into the record store on completion.
type Conversation []Message

// EncodeConversation serializes a conversation for persistence.
func EncodeConversation(c Conversation) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation: %w", err)
	}
	return string(data), nil
}

// DecodeConversation parses a persisted conversation.
func DecodeConversation(data string) (Conversation, error) {
	var c Conversation
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return c, nil
}

// SystemMessage creates a system turn.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Request asks a provider for N independent samples of the same conversation.
type Request struct {
	Messages    Conversation
	N           int
	Temperature float32
	MaxTokens   int
}

// Usage reports token consumption for one completion call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Response carries the sampled completions and token usage.
type Response struct {
	Samples []string
	Usage   Usage
}

// Client is the external completion service. Implementations must return
// exactly req.N samples on success.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// ModelName identifies the model for token accounting.
	ModelName() string
}

// DefaultMaxTokens bounds completion length when the caller does not specify one.
const DefaultMaxTokens = 4096

// NewRequest creates a single-sample request with default limits.
func NewRequest(messages Conversation, temperature float32) Request {
	return Request{
		Messages:    messages,
		N:           1,
		Temperature: temperature,
		MaxTokens:   DefaultMaxTokens,
	}
}
