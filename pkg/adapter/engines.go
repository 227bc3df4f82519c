// Package adapter connects provider packages to pipeline stages and
// provides mock stages for tests.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/audio"
	"github.com/teslashibe/go-voicelink/pkg/inference"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/stt"
	"github.com/teslashibe/go-voicelink/pkg/tts"
)

// Option configures a bridge.
type Option func(*options)

type options struct {
	skipWarmup bool
	logger     *slog.Logger

	// LLM request parameters.
	model       string
	maxTokens   int
	temperature float64

	// TTS output rate; zero keeps the provider's rate.
	outputRate int
}

// WithoutWarmup makes Initialize succeed without contacting the provider.
func WithoutWarmup() Option {
	return func(o *options) { o.skipWarmup = true }
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithGeneration sets per-request LLM parameters. Zero values leave the
// provider defaults in place.
func WithGeneration(model string, maxTokens int, temperature float64) Option {
	return func(o *options) {
		o.model = model
		o.maxTokens = maxTokens
		o.temperature = temperature
	}
}

// WithOutputRate resamples synthesized speech to rate.
func WithOutputRate(rate int) Option {
	return func(o *options) { o.outputRate = rate }
}

func newOptions(component string, opts []Option) options {
	o := options{logger: log.Component(component)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// warmup runs a health check once. Failed checks are retried on the next
// call.
type warmup struct {
	mu   sync.Mutex
	done bool
}

func (w *warmup) run(ctx context.Context, skip bool, name string, logger *slog.Logger, health func(context.Context) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	if !skip {
		if err := health(ctx); err != nil {
			return fmt.Errorf("%s: warmup: %w", name, err)
		}
		logger.Info("provider ready", "provider", name)
	}
	w.done = true
	return nil
}

// STT adapts an stt.Provider to pipeline.STT.
type STT struct {
	provider stt.Provider
	opts     options
	warm     warmup
}

// NewSTT wraps p.
func NewSTT(p stt.Provider, opts ...Option) *STT {
	return &STT{provider: p, opts: newOptions("stt", opts)}
}

// Initialize checks that the provider is reachable. It is idempotent.
func (s *STT) Initialize(ctx context.Context) error {
	return s.warm.run(ctx, s.opts.skipWarmup, s.provider.Name(), s.opts.logger, s.provider.Health)
}

// Transcribe sends one utterance to the provider.
func (s *STT) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	res, err := s.provider.Transcribe(ctx, &stt.Request{Samples: samples, SampleRate: sampleRate})
	if err != nil {
		return "", err
	}
	s.opts.logger.Debug("transcribed",
		"provider", s.provider.Name(),
		"audio", res.AudioDuration,
		"latency_ms", res.LatencyMs,
	)
	return res.Text, nil
}

// Close closes the provider.
func (s *STT) Close() error { return s.provider.Close() }

// LLM adapts an inference.Provider to pipeline.LLM.
type LLM struct {
	provider inference.Provider
	opts     options
	warm     warmup
}

// NewLLM wraps p.
func NewLLM(p inference.Provider, opts ...Option) *LLM {
	return &LLM{provider: p, opts: newOptions("llm", opts)}
}

// Initialize checks that the provider is reachable. It is idempotent.
func (l *LLM) Initialize(ctx context.Context) error {
	return l.warm.run(ctx, l.opts.skipWarmup, l.provider.Name(), l.opts.logger, l.provider.Health)
}

// Generate opens a streaming completion over history.
func (l *LLM) Generate(ctx context.Context, history []pipeline.Message) (pipeline.TokenStream, error) {
	req := &inference.ChatRequest{
		Messages:    convertHistory(history),
		Model:       l.opts.model,
		MaxTokens:   l.opts.maxTokens,
		Temperature: l.opts.temperature,
	}
	stream, err := l.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &tokenStream{stream: stream}, nil
}

// Close closes the provider.
func (l *LLM) Close() error { return l.provider.Close() }

func convertHistory(history []pipeline.Message) []inference.Message {
	out := make([]inference.Message, 0, len(history))
	for _, m := range history {
		out = append(out, inference.Message{Role: inference.Role(m.Role), Content: m.Content})
	}
	return out
}

// tokenStream maps provider chunks to fragments. A final chunk carrying a
// delta yields the delta first and io.EOF on the following call.
type tokenStream struct {
	stream inference.Stream
	done   bool
}

func (t *tokenStream) Next() (string, error) {
	for {
		if t.done {
			return "", io.EOF
		}
		chunk, err := t.stream.Recv()
		if errors.Is(err, io.EOF) {
			t.done = true
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if chunk.Done {
			t.done = true
		}
		if chunk.Delta != "" {
			return chunk.Delta, nil
		}
	}
}

func (t *tokenStream) Close() error {
	return t.stream.Close()
}

// TTS adapts a tts.Provider to pipeline.TTS.
type TTS struct {
	provider tts.Provider
	opts     options
	warm     warmup
}

// NewTTS wraps p.
func NewTTS(p tts.Provider, opts ...Option) *TTS {
	return &TTS{provider: p, opts: newOptions("tts", opts)}
}

// Initialize checks that the provider is reachable. It is idempotent.
func (t *TTS) Initialize(ctx context.Context) error {
	return t.warm.run(ctx, t.opts.skipWarmup, t.provider.Name(), t.opts.logger, t.provider.Health)
}

// Synthesize returns the utterance for text, resampled when an output rate
// is configured.
func (t *TTS) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	res, err := t.provider.Synthesize(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	samples, rate := res.Samples, res.SampleRate
	if t.opts.outputRate > 0 && rate != t.opts.outputRate {
		samples, err = audio.Resample(samples, rate, t.opts.outputRate)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: resample %d -> %d: %w", t.provider.Name(), rate, t.opts.outputRate, err)
		}
		rate = t.opts.outputRate
	}
	t.opts.logger.Debug("synthesized",
		"provider", t.provider.Name(),
		"chars", res.CharCount,
		"duration", res.Duration,
		"latency_ms", res.LatencyMs,
	)
	return samples, rate, nil
}

// Close closes the provider.
func (t *TTS) Close() error { return t.provider.Close() }

var (
	_ pipeline.STT         = (*STT)(nil)
	_ pipeline.LLM         = (*LLM)(nil)
	_ pipeline.TTS         = (*TTS)(nil)
	_ pipeline.TokenStream = (*tokenStream)(nil)
)
