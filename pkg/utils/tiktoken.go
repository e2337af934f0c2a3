// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"testforge/pkg/llm"
)

// TokenCounter provides token counting for prompt size accounting. Non-OpenAI
// models are approximated with the GPT-4 encoding, which is close enough for
// budget checks.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter for the given model name.
func NewTokenCounter(model string) (*TokenCounter, error) {
	tikModel := tokenizer.GPT4
	if strings.HasPrefix(model, "gpt-4o") {
		tikModel = tokenizer.GPT4o
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		// Character-based estimation (4 chars per token).
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountConversation sums the tokens of every message plus a small per-message
// framing overhead.
func (tc *TokenCounter) CountConversation(conv llm.Conversation) int {
	const messageOverhead = 4
	total := 0
	for _, msg := range conv {
		total += tc.CountTokens(msg.Content) + messageOverhead
	}
	return total
}

// ValidateTokenLimit reports whether text fits within limit tokens.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}
