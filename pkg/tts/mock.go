package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing. By default it returns silence at
// Rate, about 20ms per character.
type Mock struct {
	// Rate is the sample rate of the default output. Zero means SampleRatePiper.
	Rate int

	// Delay is waited out, honouring ctx, before every synthesis.
	Delay time.Duration

	// SynthesizeFunc overrides the default output.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// HealthFunc overrides Health.
	HealthFunc func(ctx context.Context) error

	mu     sync.Mutex
	texts  []string
	checks int
	closed bool
}

// NewMock returns a mock producing silence at SampleRatePiper.
func NewMock() *Mock {
	return &Mock{Rate: SampleRatePiper}
}

// WithError returns a mock whose Synthesize and Health fail with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(context.Context, string) (*AudioResult, error) { return nil, err },
		HealthFunc:     func(context.Context) error { return err },
	}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Synthesize records text and returns the mock output.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rate := m.Rate
	if rate == 0 {
		rate = SampleRatePiper
	}
	samples := make([]int16, len(text)*(rate/50))
	return newResult(samples, rate, text, start), nil
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	m.mu.Lock()
	m.checks++
	m.mu.Unlock()
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

// Texts returns every synthesized text in call order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

// HealthChecks returns the number of Health calls.
func (m *Mock) HealthChecks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Provider = (*Mock)(nil)
