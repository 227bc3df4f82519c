// Package pipeline orchestrates one STT -> LLM -> TTS cycle over adapters
// that may each be present or absent on this side of a connection.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicelink/internal/log"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSystemPrompt seeds the conversation with a system message.
func WithSystemPrompt(prompt string) Option {
	return func(p *Pipeline) {
		p.history = NewHistory(prompt)
	}
}

// WithHistory uses an existing history instead of a fresh one.
func WithHistory(h *History) Option {
	return func(p *Pipeline) {
		if h != nil {
			p.history = h
		}
	}
}

// WithSentenceTTS synthesizes each completed sentence while the LLM is still
// streaming. OnAudio then fires zero or more times per cycle instead of at
// most once.
func WithSentenceTTS() Option {
	return func(p *Pipeline) {
		p.perSentence = true
	}
}

// WithObserver registers an observer notified after every cycle.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline runs inference cycles for one conversation.
//
// At most one cycle runs at a time; a second caller blocks until the first
// finishes or its context ends.
type Pipeline struct {
	slots   Slots
	caps    Capabilities
	history *History

	perSentence bool
	observers   []Observer
	logger      *slog.Logger

	initMu sync.Mutex
	ready  atomic.Bool
	sem    semaphore
}

// New creates a Pipeline over the given slots. Initialize must succeed
// before any cycle runs.
func New(slots Slots, opts ...Option) *Pipeline {
	p := &Pipeline{
		slots:   slots,
		caps:    slots.Capabilities(),
		history: NewHistory(""),
		logger:  log.Component("pipeline"),
		sem:     newSemaphore(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capabilities reports which stages this pipeline performs.
func (p *Pipeline) Capabilities() Capabilities {
	return p.caps
}

// History returns the conversation log.
func (p *Pipeline) History() *History {
	return p.history
}

// Ready reports whether Initialize succeeded.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// SentenceTTS reports whether audio is synthesized per sentence.
func (p *Pipeline) SentenceTTS() bool {
	return p.perSentence
}

type initStep struct {
	stage Stage
	init  func(context.Context) error
}

// Initialize initializes every present adapter in STT, LLM, TTS order and
// stops at the first failure. It is a no-op once it has succeeded.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.ready.Load() {
		return nil
	}

	var steps []initStep
	if p.slots.STT != nil {
		steps = append(steps, initStep{StageSTT, p.slots.STT.Initialize})
	}
	if p.slots.LLM != nil {
		steps = append(steps, initStep{StageLLM, p.slots.LLM.Initialize})
	}
	if p.slots.TTS != nil {
		steps = append(steps, initStep{StageTTS, p.slots.TTS.Initialize})
	}

	for _, step := range steps {
		if err := step.init(ctx); err != nil {
			p.logger.Warn("adapter initialization failed", "stage", step.stage, "error", err)
			return engineError(step.stage, err)
		}
	}

	p.ready.Store(true)
	p.logger.Info("pipeline ready", "capabilities", p.caps.String())
	return nil
}

// ClearHistory resets the conversation to its system prompt. It does not
// interrupt a running cycle.
func (p *Pipeline) ClearHistory() {
	p.history.Clear()
}

// ProcessAudio transcribes one finalized utterance and, if speech was
// recognized, continues as ProcessText. When this side has no LLM the cycle
// ends after the transcript and the peer is expected to generate.
//
// Every call ends with exactly one of sinks.OnComplete or sinks.OnError. The
// same error is also returned.
func (p *Pipeline) ProcessAudio(ctx context.Context, samples []int16, sampleRate int, sinks Sinks) error {
	if p.slots.STT == nil {
		return p.reject(sinks, &ConfigurationError{Op: "ProcessAudio", Stage: StageSTT})
	}
	return p.run(ctx, SourceAudio, sinks, func(c *cycleClock) (Outcome, error) {
		text, err := p.slots.STT.Transcribe(ctx, samples, sampleRate)
		if err != nil {
			c.m.FailedStage = StageSTT
			return OutcomeError, engineError(StageSTT, err)
		}
		c.markTranscript()

		text = strings.TrimSpace(text)
		if text == "" {
			return OutcomeEmpty, nil
		}
		sinks.transcript(text)

		if p.slots.LLM == nil {
			return OutcomeComplete, nil
		}
		return p.respond(ctx, c, text, sinks)
	})
}

// ProcessText runs the LLM (and TTS, if present) over already-transcribed
// input.
func (p *Pipeline) ProcessText(ctx context.Context, text string, sinks Sinks) error {
	if p.slots.LLM == nil {
		return p.reject(sinks, &ConfigurationError{Op: "ProcessText", Stage: StageLLM})
	}
	return p.run(ctx, SourceText, sinks, func(c *cycleClock) (Outcome, error) {
		return p.respond(ctx, c, text, sinks)
	})
}

func (p *Pipeline) reject(sinks Sinks, err error) error {
	sinks.fail(err)
	return err
}

// run wraps one cycle with the readiness check, the in-flight semaphore and
// the terminal event.
func (p *Pipeline) run(ctx context.Context, src Source, sinks Sinks, body func(*cycleClock) (Outcome, error)) error {
	if !p.ready.Load() {
		return p.reject(sinks, ErrNotReady)
	}
	if err := p.sem.acquire(ctx); err != nil {
		return p.reject(sinks, err)
	}
	defer p.sem.release()

	clock := startClock(src)
	outcome, err := body(clock)
	if err == nil {
		err = ctx.Err()
		if err != nil {
			outcome = OutcomeError
		}
	}
	m := clock.finish(outcome)

	if err != nil {
		p.logger.Debug("cycle failed", "source", src, "stage", m.FailedStage, "error", err)
		sinks.fail(err)
	} else {
		p.logger.Debug("cycle complete", "source", src, "outcome", outcome, "latency", m.FormatLatency())
		sinks.complete()
	}

	for _, o := range p.observers {
		o.ObserveCycle(m)
	}
	return err
}

// respond appends the user turn, streams the LLM response and synthesizes
// speech for it.
func (p *Pipeline) respond(ctx context.Context, c *cycleClock, text string, sinks Sinks) (Outcome, error) {
	p.history.Append(Message{Role: RoleUser, Content: text})

	stream, err := p.slots.LLM.Generate(ctx, p.history.Messages())
	if err != nil {
		c.m.FailedStage = StageLLM
		return OutcomeError, engineError(StageLLM, err)
	}
	// The stream is closed as soon as it is drained so that an exclusive LLM
	// is free again before the final synthesis.
	open := true
	closeStream := func() {
		if open {
			open = false
			_ = stream.Close()
		}
	}
	defer closeStream()

	var (
		full     strings.Builder
		splitter *sentenceSplitter
	)
	if p.perSentence && p.slots.TTS != nil {
		splitter = &sentenceSplitter{}
	}

	for {
		if err := ctx.Err(); err != nil {
			return OutcomeError, err
		}
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			closeStream()
			break
		}
		if err != nil {
			c.m.FailedStage = StageLLM
			return OutcomeError, engineError(StageLLM, err)
		}
		if fragment == "" {
			continue
		}

		c.markChunk(len(fragment))
		sinks.chunk(fragment)
		full.WriteString(fragment)

		if splitter != nil {
			for _, sentence := range splitter.push(fragment) {
				if err := p.speak(ctx, c, sentence, sinks); err != nil {
					return OutcomeError, err
				}
			}
		}
	}
	c.markStreamDone()

	response := full.String()
	p.history.Append(Message{Role: RoleAssistant, Content: response})

	if p.slots.TTS == nil {
		return OutcomeComplete, nil
	}
	rest := response
	if splitter != nil {
		rest = splitter.flush()
	}
	if strings.TrimSpace(rest) != "" {
		if err := p.speak(ctx, c, rest, sinks); err != nil {
			return OutcomeError, err
		}
	}
	return OutcomeComplete, nil
}

func (p *Pipeline) speak(ctx context.Context, c *cycleClock, text string, sinks Sinks) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	samples, rate, err := p.slots.TTS.Synthesize(ctx, text)
	if err != nil {
		c.m.FailedStage = StageTTS
		return engineError(StageTTS, err)
	}
	c.addTTS(time.Since(start), len(samples))
	sinks.audio(samples, rate)
	return nil
}
