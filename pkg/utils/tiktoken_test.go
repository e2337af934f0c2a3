package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testforge/pkg/llm"
)

func TestCountTokens(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	assert.Zero(t, tc.CountTokens(""))
	assert.Positive(t, tc.CountTokens("hello world"))

	short := tc.CountTokens("hello")
	long := tc.CountTokens("hello hello hello hello hello")
	assert.Greater(t, long, short)
}

func TestCountTokens_UnknownModelFallsBack(t *testing.T) {
	tc, err := NewTokenCounter("llama3.2:latest")
	require.NoError(t, err)
	assert.Positive(t, tc.CountTokens("some source code"))
}

func TestCountConversation(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	conv := llm.Conversation{
		llm.SystemMessage("generate tests"),
		llm.UserMessage("def f(x): return x"),
	}
	total := tc.CountConversation(conv)
	assert.Greater(t, total, tc.CountTokens("generate tests"))
}

func TestValidateTokenLimit(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	assert.True(t, tc.ValidateTokenLimit("short", 100))
	assert.False(t, tc.ValidateTokenLimit("one two three four five six seven", 2))
}
