package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies completion-service failures for retry decisions.
type ErrorType int8

const (
	// ErrorTypeAuth represents authentication failures (401/403, bad API key).
	ErrorTypeAuth ErrorType = iota
	// ErrorTypeModelUnavailable represents a missing or inaccessible model (404,
	// model removed, service down for that model).
	ErrorTypeModelUnavailable
	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded).
	ErrorTypeRateLimit
	// ErrorTypeTransient represents retryable infrastructure errors (5xx, EOF,
	// connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeBadPrompt represents malformed requests (too long, bad roles).
	ErrorTypeBadPrompt
	// ErrorTypeEmptyResponse represents HTTP 200 with no usable content.
	ErrorTypeEmptyResponse
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeModelUnavailable:
		return "model_unavailable"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether a fresh attempt could plausibly succeed.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Error is a classified completion-service failure.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("llm %s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// WrapError classifies and wraps an underlying provider error.
func WrapError(t ErrorType, message string, err error) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// TypeOf extracts the classification from err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Type
	}
	return ErrorTypeUnknown
}

// ClassifyHTTPStatus maps an HTTP status code to an error type.
func ClassifyHTTPStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusNotFound:
		return ErrorTypeModelUnavailable
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeTransient
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}

// ClassifyMessage heuristically classifies errors from providers that do not
// surface a status code (e.g. a local Ollama daemon).
func ClassifyMessage(msg string) ErrorType {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication"):
		return ErrorTypeAuth
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return ErrorTypeModelUnavailable
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		return ErrorTypeRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") || strings.Contains(lower, "eof"):
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}
