// Package testutil provides in-memory stand-ins for the completion and
// retrieval backends.
package testutil

import (
	"context"
	"sync"

	"github.com/RobertJohnDavidson/rag-style-check/llm"
)

// MockLLMClient is a thread-safe llm.Client for tests.
//
// Responses are returned in order; once exhausted the last one repeats.
// Handler, when set, takes precedence and can route on the request.
// Err is returned for every call when set.
type MockLLMClient struct {
	mu        sync.Mutex
	Responses []*llm.Response
	Err       error
	Handler   func(req llm.Request) (*llm.Response, error)

	requests []llm.Request
	index    int
}

// Complete implements llm.Client
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Handler != nil {
		return m.Handler(req)
	}
	if len(m.Responses) == 0 {
		return &llm.Response{Content: "", Model: "test-model"}, nil
	}
	resp := m.Responses[m.index]
	if m.index < len(m.Responses)-1 {
		m.index++
	}
	return resp, nil
}

// CallCount returns the number of Complete calls
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// JSON builds a response carrying content
func JSON(content string) *llm.Response {
	return &llm.Response{Content: content, Model: "test-model"}
}
