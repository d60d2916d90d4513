package generate

import (
	"context"
	"sync"
	"time"
)

// Mock implements Generator for testing.
type Mock struct {
	// GenerateFunc is called when Generate is invoked.
	GenerateFunc func(ctx context.Context, req *Request) (*Response, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Generate invocation.
type MockCall struct {
	Request Request
	Time    time.Time
}

// NewMock creates a mock that answers every request with text.
func NewMock(text string) *Mock {
	return &Mock{
		GenerateFunc: func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{
				Text:  text,
				Model: req.Model,
				Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
	}
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		GenerateFunc: func(ctx context.Context, req *Request) (*Response, error) {
			return nil, err
		},
	}
}

// Generate calls GenerateFunc and records the call.
func (m *Mock) Generate(ctx context.Context, req *Request) (*Response, error) {
	m.record(req)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrUnavailable)
}

// Name returns "mock".
func (m *Mock) Name() string {
	return "mock"
}

func (m *Mock) record(req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r Request
	if req != nil {
		r = *req
	}
	m.calls = append(m.calls, MockCall{Request: r, Time: time.Now()})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of Generate calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Verify Mock implements Generator at compile time.
var _ Generator = (*Mock)(nil)
