// Package testutil provides test utilities for the llm package, including a
// scriptable mock adapter for exercising conversation nodes without a model.
package testutil

import (
	"context"
	"sync"

	"github.com/lisahq/lisa/llm"
)

// MockAdapter is a thread-safe mock model adapter. It returns configured
// responses in sequence and captures every request for verification.
//
// Usage:
//
//	mock := &testutil.MockAdapter{
//	    Responses: []*llm.Response{
//	        {Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95}`},
//	    },
//	}
//
// For streaming calls, Streams[i] scripts the deltas of the i-th call; when
// no script exists the response content is delivered as a single delta.
type MockAdapter struct {
	mu sync.Mutex

	// Responses to return in sequence. The last response repeats once the
	// sequence is exhausted.
	Responses []*llm.Response

	// Streams optionally scripts deltas per call index.
	Streams map[int][]string

	// Err is returned by every call when set (takes precedence).
	Err error

	// Requests captures every request in call order.
	Requests []llm.Request

	calls int
}

// Complete implements llm.Adapter.
func (m *MockAdapter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next(req)
}

// CompleteStream implements llm.Adapter. Scripted deltas (or the whole
// response content) are delivered through onChunk before the final response
// is returned.
func (m *MockAdapter) CompleteStream(_ context.Context, req llm.Request, onChunk func(llm.StreamChunk) error) (*llm.Response, error) {
	m.mu.Lock()
	callIndex := m.calls
	resp, err := m.next(req)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	deltas := m.Streams[callIndex]
	if deltas == nil && resp.Content != "" {
		deltas = []string{resp.Content}
	}
	for _, delta := range deltas {
		if err := onChunk(llm.StreamChunk{ContentDelta: delta}); err != nil {
			return nil, err
		}
	}
	if err := onChunk(llm.StreamChunk{Done: true}); err != nil {
		return nil, err
	}
	return resp, nil
}

// CallCount returns the number of calls made so far.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// next records the request and picks the response for this call. The caller
// must hold the mutex.
func (m *MockAdapter) next(req llm.Request) (*llm.Response, error) {
	m.Requests = append(m.Requests, req)
	m.calls++

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &llm.Response{}, nil
	}
	idx := m.calls - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}
