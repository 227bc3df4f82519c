package stt

import (
	"context"
	"sync"
)

// Mock implements Provider for testing.
type Mock struct {
	// Text is returned by the default Transcribe.
	Text string

	// TranscribeFunc overrides Transcribe.
	TranscribeFunc func(ctx context.Context, req *Request) (*Result, error)

	// HealthFunc overrides Health.
	HealthFunc func(ctx context.Context) error

	mu       sync.Mutex
	requests []*Request
	closed   bool
}

// NewMock returns a mock that transcribes every utterance as text.
func NewMock(text string) *Mock {
	return &Mock{Text: text}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Transcribe records the request and returns Text.
func (m *Mock) Transcribe(ctx context.Context, req *Request) (*Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Text: m.Text, AudioDuration: req.Duration()}, nil
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Requests returns every recorded request.
func (m *Mock) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Provider = (*Mock)(nil)
