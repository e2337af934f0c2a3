package llm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"testforge/pkg/logx"
)

// RetryConfig defines exponential backoff behavior for retryable failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig provides reasonable defaults for completion calls.
//
//nolint:gochecknoglobals // Package-level default configuration
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    4,
	InitialDelay:  1 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// RetryingClient wraps a Client with classified retry. Non-retryable errors
// (auth, bad prompt, model unavailable) propagate immediately.
type RetryingClient struct {
	inner  Client
	config RetryConfig
	logger *logx.Logger
}

// WithRetry wraps client with the default retry policy.
func WithRetry(client Client) *RetryingClient {
	return WithRetryConfig(client, DefaultRetryConfig)
}

// WithRetryConfig wraps client with a custom retry policy.
func WithRetryConfig(client Client, config RetryConfig) *RetryingClient {
	return &RetryingClient{
		inner:  client,
		config: config,
		logger: logx.NewLogger("llm-retry"),
	}
}

// ModelName returns the wrapped client's model.
func (r *RetryingClient) ModelName() string {
	return r.inner.ModelName()
}

// Complete calls the wrapped client, retrying transient failures with
// exponential backoff.
func (r *RetryingClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoffDelay(attempt)
			r.logger.Warn("completion attempt %d/%d failed (%s), retrying in %v: %v",
				attempt, r.config.MaxRetries, TypeOf(lastErr), delay, lastErr)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !TypeOf(err).Retryable() {
			return Response{}, err
		}
	}

	return Response{}, lastErr
}

func (r *RetryingClient) backoffDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay *= 0.5 + rand.Float64()/2 //nolint:gosec // Jitter does not need crypto randomness
	}
	return time.Duration(delay)
}
