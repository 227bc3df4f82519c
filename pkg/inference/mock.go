package inference

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// Chunks are streamed by the default Stream, one Delta each.
	Chunks []string

	// ChatFunc overrides Chat.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamFunc overrides Stream.
	StreamFunc func(ctx context.Context, req *ChatRequest) (Stream, error)

	// HealthFunc overrides Health.
	HealthFunc func(ctx context.Context) error

	// CloseFunc overrides Close.
	CloseFunc func() error

	mu       sync.Mutex
	calls    []MockCall
	requests []*ChatRequest
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock provider that streams chunks.
func NewMock(chunks ...string) *Mock {
	if len(chunks) == 0 {
		chunks = []string{"Mock ", "response"}
	}
	return &Mock{Chunks: chunks}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Chat calls ChatFunc, or joins Chunks into one response.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.record("Chat", req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &ChatResponse{
		Message:      NewAssistantMessage(strings.Join(m.Chunks, "")),
		FinishReason: "stop",
		Model:        "mock",
	}, nil
}

// Stream calls StreamFunc, or streams Chunks.
func (m *Mock) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	m.record("Stream", req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return NewMockStream(m.Chunks...), nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close", nil)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) record(method string, req *ChatRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
	if req != nil {
		m.requests = append(m.requests, req)
	}
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastRequest returns the most recent Chat or Stream request, or nil.
func (m *Mock) LastRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.requests = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc: func(context.Context, *ChatRequest) (*ChatResponse, error) {
			return nil, err
		},
		StreamFunc: func(context.Context, *ChatRequest) (Stream, error) {
			return nil, err
		},
		HealthFunc: func(context.Context) error {
			return err
		},
	}
}

// MockStream yields one chunk per fragment, then a final Done chunk. If Err
// is set it is returned instead of the final chunk.
type MockStream struct {
	Fragments []string
	Err       error

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewMockStream creates a stream over fragments.
func NewMockStream(fragments ...string) *MockStream {
	return &MockStream{Fragments: fragments}
}

// Recv returns the next chunk.
func (s *MockStream) Recv() (*StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.pos < len(s.Fragments) {
		s.pos++
		return &StreamChunk{Delta: s.Fragments[s.pos-1]}, nil
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return &StreamChunk{FinishReason: "stop", Done: true}, nil
}

// Close marks the stream closed.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
