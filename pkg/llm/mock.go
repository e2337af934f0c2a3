package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient provides a controllable implementation of Client for testing.
// Responses and errors are consumed in order; it also records every request
// it receives so tests can assert on the conversation the controller built.
type MockClient struct {
	mu            sync.Mutex
	responses     []Response
	responseIndex int
	errors        []error
	errorIndex    int
	Requests      []Request
}

// NewMockClient creates a mock with predefined responses and errors.
func NewMockClient(responses []Response, errors []error) *MockClient {
	return &MockClient{responses: responses, errors: errors}
}

// ModelName identifies the mock in token accounting.
func (m *MockClient) ModelName() string {
	return "mock"
}

// Complete returns the next predefined response or error.
func (m *MockClient) Complete(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.errorIndex < len(m.errors) && m.errors[m.errorIndex] != nil {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		return Response{}, err
	}

	if m.responseIndex >= len(m.responses) {
		return Response{}, fmt.Errorf("mock client: no more responses")
	}

	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// CallCount reports how many Complete calls were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
