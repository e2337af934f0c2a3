package llm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationRoundTrip(t *testing.T) {
	conv := Conversation{
		SystemMessage("generate tests"),
		UserMessage("def add(a, b): return a + b"),
		AssistantMessage("def test_add(): ..."),
	}

	encoded, err := EncodeConversation(conv)
	require.NoError(t, err)

	decoded, err := DecodeConversation(encoded)
	require.NoError(t, err)
	assert.Equal(t, conv, decoded)
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusUnauthorized, ErrorTypeAuth},
		{http.StatusForbidden, ErrorTypeAuth},
		{http.StatusNotFound, ErrorTypeModelUnavailable},
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusInternalServerError, ErrorTypeTransient},
		{http.StatusBadGateway, ErrorTypeTransient},
		{http.StatusBadRequest, ErrorTypeBadPrompt},
		{http.StatusTeapot, ErrorTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyHTTPStatus(tt.status), "status %d", tt.status)
	}
}

func TestErrorTypeRetryable(t *testing.T) {
	assert.True(t, ErrorTypeRateLimit.Retryable())
	assert.True(t, ErrorTypeTransient.Retryable())
	assert.True(t, ErrorTypeEmptyResponse.Retryable())
	assert.False(t, ErrorTypeAuth.Retryable())
	assert.False(t, ErrorTypeBadPrompt.Retryable())
	assert.False(t, ErrorTypeModelUnavailable.Retryable())
}

func TestTypeOf_WrappedError(t *testing.T) {
	err := WrapError(ErrorTypeRateLimit, "quota hit", assert.AnError)
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, ErrorTypeUnknown, TypeOf(assert.AnError))
}

func TestEnsureAlternation(t *testing.T) {
	system, merged, err := ensureAlternation(Conversation{
		SystemMessage("instructions"),
		UserMessage("prompt"),
		UserMessage("more context"),
		AssistantMessage("candidate"),
		UserMessage("fix it"),
	})
	require.NoError(t, err)

	assert.Equal(t, "instructions", system)
	require.Len(t, merged, 3)
	assert.Equal(t, RoleUser, merged[0].Role)
	assert.Equal(t, "prompt\n\nmore context", merged[0].Content)
	assert.Equal(t, RoleAssistant, merged[1].Role)
	assert.Equal(t, RoleUser, merged[2].Role)
}

func TestEnsureAlternation_RejectsAssistantTail(t *testing.T) {
	_, _, err := ensureAlternation(Conversation{
		UserMessage("prompt"),
		AssistantMessage("candidate"),
	})
	assert.Error(t, err)
}

func TestRetryingClient_RetriesTransient(t *testing.T) {
	mock := NewMockClient(
		[]Response{{Samples: []string{"ok"}}},
		[]error{NewError(ErrorTypeTransient, "connection reset")},
	)
	client := WithRetryConfig(mock, RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	})

	resp, err := client.Complete(context.Background(), NewRequest(Conversation{UserMessage("hi")}, 0.1))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, resp.Samples)
	assert.Equal(t, 2, mock.CallCount())
}

func TestRetryingClient_AuthFailsFast(t *testing.T) {
	mock := NewMockClient(nil, []error{NewError(ErrorTypeAuth, "bad key")})
	client := WithRetryConfig(mock, RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	})

	_, err := client.Complete(context.Background(), NewRequest(Conversation{UserMessage("hi")}, 0.1))
	require.Error(t, err)
	assert.Equal(t, ErrorTypeAuth, TypeOf(err))
	assert.Equal(t, 1, mock.CallCount())
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(Provider("cobol"), ClientConfig{})
	assert.Error(t, err)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	for _, p := range []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini} {
		_, err := NewClient(p, ClientConfig{Model: "m"})
		require.Error(t, err, "provider %s", p)
		assert.Equal(t, ErrorTypeAuth, TypeOf(err))
	}

	// Ollama is local and needs no key.
	client, err := NewClient(ProviderOllama, ClientConfig{Model: "qwen2.5-coder"})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder", client.ModelName())
}
