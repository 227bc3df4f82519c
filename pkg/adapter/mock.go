package adapter

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/teslashibe/go-voicelink/pkg/pipeline"
)

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Len    int
	Time   time.Time
}

type callLog struct {
	mu    sync.Mutex
	calls []MockCall
}

func (l *callLog) record(method, text string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, MockCall{Method: method, Text: text, Len: n, Time: time.Now()})
}

// Calls returns all recorded calls.
func (l *callLog) Calls() []MockCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MockCall, len(l.calls))
	copy(out, l.calls)
	return out
}

// CallCount returns the number of calls to method.
func (l *callLog) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls.
func (l *callLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

// MockSTT implements pipeline.STT for testing.
type MockSTT struct {
	// InitFunc is called by Initialize. If nil, returns nil.
	InitFunc func(ctx context.Context) error

	// TranscribeFunc is called by Transcribe. If nil, returns Transcript.
	TranscribeFunc func(ctx context.Context, samples []int16, sampleRate int) (string, error)

	// Transcript is the default transcription result.
	Transcript string

	callLog

	mu       sync.Mutex
	received [][]int16
}

// NewMockSTT creates a mock that always hears transcript.
func NewMockSTT(transcript string) *MockSTT {
	return &MockSTT{Transcript: transcript}
}

// Initialize calls InitFunc and records the call.
func (m *MockSTT) Initialize(ctx context.Context) error {
	m.record("Initialize", "", 0)
	if m.InitFunc != nil {
		return m.InitFunc(ctx)
	}
	return nil
}

// Transcribe calls TranscribeFunc and records the buffer it was given.
func (m *MockSTT) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	m.record("Transcribe", "", len(samples))
	m.mu.Lock()
	m.received = append(m.received, samples)
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, samples, sampleRate)
	}
	return m.Transcript, nil
}

// Received returns every buffer passed to Transcribe.
func (m *MockSTT) Received() [][]int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int16, len(m.received))
	copy(out, m.received)
	return out
}

// MockLLM implements pipeline.LLM for testing. By default it streams
// Fragments and then ends with Err, or io.EOF when Err is nil.
type MockLLM struct {
	InitFunc     func(ctx context.Context) error
	GenerateFunc func(ctx context.Context, history []pipeline.Message) (pipeline.TokenStream, error)

	Fragments []string
	Err       error

	// Delay is applied before each fragment.
	Delay time.Duration

	callLog

	mu        sync.Mutex
	histories [][]pipeline.Message
}

// NewMockLLM creates a mock that streams fragments.
func NewMockLLM(fragments ...string) *MockLLM {
	return &MockLLM{Fragments: fragments}
}

// Initialize calls InitFunc and records the call.
func (m *MockLLM) Initialize(ctx context.Context) error {
	m.record("Initialize", "", 0)
	if m.InitFunc != nil {
		return m.InitFunc(ctx)
	}
	return nil
}

// Generate records the history and returns a stream.
func (m *MockLLM) Generate(ctx context.Context, history []pipeline.Message) (pipeline.TokenStream, error) {
	m.record("Generate", "", len(history))
	m.mu.Lock()
	m.histories = append(m.histories, history)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, history)
	}
	return &SliceStream{ctx: ctx, Fragments: m.Fragments, Err: m.Err, Delay: m.Delay}, nil
}

// Histories returns every history passed to Generate.
func (m *MockLLM) Histories() [][]pipeline.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]pipeline.Message, len(m.histories))
	copy(out, m.histories)
	return out
}

// SliceStream is a TokenStream over a fixed list of fragments.
type SliceStream struct {
	ctx       context.Context
	Fragments []string
	Err       error
	Delay     time.Duration

	pos    int
	closed bool
}

// NewSliceStream creates a stream that yields fragments and then err
// (io.EOF when err is nil).
func NewSliceStream(ctx context.Context, err error, fragments ...string) *SliceStream {
	return &SliceStream{ctx: ctx, Fragments: fragments, Err: err}
}

// Next returns the next fragment.
func (s *SliceStream) Next() (string, error) {
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if s.Delay > 0 {
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.pos >= len(s.Fragments) {
		if s.Err != nil {
			return "", s.Err
		}
		return "", io.EOF
	}
	f := s.Fragments[s.pos]
	s.pos++
	return f, nil
}

// Close marks the stream closed.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// MockTTS implements pipeline.TTS for testing. By default it returns
// SamplesPerChar silent samples per input character at SampleRate.
type MockTTS struct {
	InitFunc       func(ctx context.Context) error
	SynthesizeFunc func(ctx context.Context, text string) ([]int16, int, error)

	SampleRate     int
	SamplesPerChar int

	callLog
}

// NewMockTTS creates a mock synthesizer at 22050 Hz.
func NewMockTTS() *MockTTS {
	return &MockTTS{SampleRate: 22050, SamplesPerChar: 10}
}

// Initialize calls InitFunc and records the call.
func (m *MockTTS) Initialize(ctx context.Context) error {
	m.record("Initialize", "", 0)
	if m.InitFunc != nil {
		return m.InitFunc(ctx)
	}
	return nil
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *MockTTS) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	m.record("Synthesize", text, len(text))
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return make([]int16, len(text)*m.SamplesPerChar), m.SampleRate, nil
}

var (
	_ pipeline.STT         = (*MockSTT)(nil)
	_ pipeline.LLM         = (*MockLLM)(nil)
	_ pipeline.TTS         = (*MockTTS)(nil)
	_ pipeline.TokenStream = (*SliceStream)(nil)
)
