// Package session translates between the wire protocol and a Pipeline for
// one connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicelink/pkg/audio"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
)

// State of a session.
type State int32

const (
	StateNegotiating State = iota
	StateActive
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Sender delivers one outbound message to the peer.
type Sender interface {
	Send(m *protocol.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(m *protocol.Message) error

// Send calls f(m).
func (f SenderFunc) Send(m *protocol.Message) error { return f(m) }

// Pipeline is the part of *pipeline.Pipeline a session drives.
type Pipeline interface {
	Capabilities() pipeline.Capabilities
	ProcessAudio(ctx context.Context, samples []int16, sampleRate int, sinks pipeline.Sinks) error
	ProcessText(ctx context.Context, text string, sinks pipeline.Sinks) error
	ClearHistory()
}

// Observer receives session lifecycle events. Implementations must be safe
// for concurrent use.
type Observer interface {
	SessionOpened()
	SessionClosed(d time.Duration)
	MessageReceived(t protocol.MessageType)
	MessageSent(t protocol.MessageType)
	ProtocolError(code protocol.ErrorCode)
}

// Options configures a Session.
type Options struct {
	// CycleTimeout bounds one cycle. Zero means no limit.
	CycleTimeout time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// Session binds one connection to one Pipeline. Handle must be called from a
// single goroutine; Destroy may be called from any goroutine.
type Session struct {
	id       string
	pipeline Pipeline
	self     pipeline.Capabilities
	sender   Sender
	opts     Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	assembler *audio.Assembler
	inputRate int    // sample rate of the utterance being assembled
	carry     []byte // trailing half sample of the last fragment

	peerMu sync.RWMutex
	peer   *pipeline.Capabilities

	// emitMu orders outbound messages against Destroy.
	emitMu  sync.Mutex
	closed  bool
	sendErr error

	created        time.Time
	cycles         atomic.Int64
	failures       atomic.Int64
	protocolErrors atomic.Int64
}

// New creates a session in the negotiating state. parent bounds every cycle
// the session runs.
func New(parent context.Context, id string, p Pipeline, sender Sender, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		pipeline:  p,
		self:      p.Capabilities(),
		sender:    sender,
		opts:      opts,
		logger:    logger.With("session_id", id),
		ctx:       ctx,
		cancel:    cancel,
		assembler: audio.NewAssembler(),
		created:   time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Capabilities returns this side's capabilities.
func (s *Session) Capabilities() pipeline.Capabilities { return s.self }

// Peer returns the last capabilities the peer declared, or nil.
func (s *Session) Peer() *pipeline.Capabilities {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	if s.peer == nil {
		return nil
	}
	c := *s.peer
	return &c
}

// Plan returns the current placement of each stage.
func (s *Session) Plan() (StagePlan, error) {
	return Plan(s.self, s.Peer())
}

// Start announces this side's capabilities and moves to active. Processing
// never waits for the peer's announcement.
func (s *Session) Start() error {
	if s.State() != StateNegotiating {
		return nil
	}
	if s.opts.Observer != nil {
		s.opts.Observer.SessionOpened()
	}
	s.emit(s.announcement())
	s.state.CompareAndSwap(int32(StateNegotiating), int32(StateActive))
	s.logger.Info("session started", "capabilities", s.self.String())
	return s.err()
}

func (s *Session) announcement() *protocol.Message {
	return protocol.NewCapabilitiesMessage(s.self.HasSTT, s.self.HasLLM, s.self.HasTTS)
}

// Handle processes one inbound message to completion. A cycle's terminal
// event is emitted before Handle returns.
//
// Protocol violations are reported to the peer and do not produce an error.
// The returned error is non-nil only when the transport failed, after which
// the caller should close the connection.
func (s *Session) Handle(m *protocol.Message) error {
	if s.State() == StateClosed {
		return nil
	}
	if s.opts.Observer != nil {
		s.opts.Observer.MessageReceived(m.Type)
	}
	if err := m.Validate(); err != nil {
		s.reject(err)
		return s.err()
	}

	switch m.Type {
	case protocol.TypeCapabilities:
		s.handleCapabilities(m)
	case protocol.TypeAudio:
		s.handleAudio(m)
	case protocol.TypeEndAudio:
		s.handleEndAudio()
	case protocol.TypeText:
		s.handleText(m.Text)
	case protocol.TypeClearHistory:
		s.pipeline.ClearHistory()
		s.logger.Debug("history cleared")
	}
	return s.err()
}

// HandleRaw decodes one frame with codec and handles it.
func (s *Session) HandleRaw(codec protocol.Codec, frame []byte) error {
	m, err := codec.Unmarshal(frame)
	if err != nil {
		s.reject(err)
		return s.err()
	}
	return s.Handle(m)
}

func (s *Session) handleCapabilities(m *protocol.Message) {
	if stt, llm, tts, ok := m.DeclaredCapabilities(); ok {
		peer := pipeline.Capabilities{HasSTT: stt, HasLLM: llm, HasTTS: tts}
		s.peerMu.Lock()
		s.peer = &peer
		s.peerMu.Unlock()

		plan, err := Plan(s.self, &peer)
		if err != nil {
			s.logger.Warn("peer capabilities leave a stage uncovered", "peer", peer.String(), "error", err)
		} else {
			s.logger.Info("peer capabilities", "peer", peer.String(), "plan", plan.String())
		}
	}
	s.emit(s.announcement())
}

func (s *Session) handleAudio(m *protocol.Message) {
	if !s.self.HasSTT {
		s.reject(protocol.NewError(protocol.CodeProtocol, m.Type, "speech recognition is not performed here; send text messages"))
		return
	}
	raw, rate, err := m.PCM()
	if err != nil {
		s.reject(err)
		return
	}
	if s.assembler.Len() == 0 && len(s.carry) == 0 {
		s.inputRate = rate
	} else if rate != s.inputRate {
		s.reject(protocol.NewError(protocol.CodeProtocol, m.Type,
			fmt.Sprintf("sample rate changed mid-utterance (%d -> %d)", s.inputRate, rate)))
		return
	}

	// Fragments need not end on a sample boundary.
	if len(s.carry) > 0 {
		raw = append(s.carry, raw...)
		s.carry = nil
	}
	if len(raw)%2 != 0 {
		s.carry = []byte{raw[len(raw)-1]}
		raw = raw[:len(raw)-1]
	}
	if len(raw) == 0 {
		return
	}
	samples, err := audio.DecodePCM16LE(raw)
	if err != nil {
		s.reject(protocol.NewError(protocol.CodeProtocol, m.Type, err.Error()))
		return
	}
	if err := s.assembler.Append(samples); err != nil {
		s.logger.Debug("audio after release dropped", "error", err)
	}
}

func (s *Session) handleEndAudio() {
	if !s.self.HasSTT {
		s.reject(protocol.NewError(protocol.CodeProtocol, protocol.TypeEndAudio, "speech recognition is not performed here; send text messages"))
		return
	}
	samples := s.assembler.Flush()
	if len(s.carry) > 0 {
		s.carry = nil
		s.reject(protocol.NewError(protocol.CodeProtocol, protocol.TypeEndAudio,
			fmt.Sprintf("utterance ends mid-sample (%d bytes)", 2*len(samples)+1)))
		return
	}
	if len(samples) == 0 {
		// No utterance: the cycle is trivially complete. This holds even
		// before the pipeline is ready, since no stage would run.
		s.cycles.Add(1)
		s.emit(protocol.NewCompleteMessage())
		return
	}
	s.logger.Debug("utterance", "samples", len(samples), "duration", audio.Duration(len(samples), s.inputRate))

	ctx, cancel := s.cycleContext()
	defer cancel()
	_ = s.pipeline.ProcessAudio(ctx, samples, s.inputRate, s.sinks())
}

func (s *Session) handleText(text string) {
	if s.self.HasSTT {
		s.reject(protocol.NewError(protocol.CodeProtocol, protocol.TypeText, "speech recognition runs here; send audio and end_audio"))
		return
	}
	ctx, cancel := s.cycleContext()
	defer cancel()
	_ = s.pipeline.ProcessText(ctx, text, s.sinks())
}

func (s *Session) cycleContext() (context.Context, context.CancelFunc) {
	s.cycles.Add(1)
	if s.opts.CycleTimeout > 0 {
		return context.WithTimeout(s.ctx, s.opts.CycleTimeout)
	}
	return context.WithCancel(s.ctx)
}

// sinks maps pipeline events one-to-one onto outbound messages.
func (s *Session) sinks() pipeline.Sinks {
	return pipeline.Sinks{
		OnTranscript: func(text string) {
			s.emit(protocol.NewTranscriptMessage(text))
		},
		OnResponseChunk: func(text string) {
			s.emit(protocol.NewResponseChunkMessage(text))
		},
		OnAudio: func(samples []int16, rate int) {
			s.emit(protocol.NewAudioMessage(samples, rate))
		},
		OnComplete: func() {
			s.emit(protocol.NewCompleteMessage())
		},
		OnError: func(err error) {
			s.failures.Add(1)
			code := CodeFor(err)
			if s.State() != StateClosed {
				s.logger.Warn("cycle failed", "code", code, "error", err)
			}
			s.emit(protocol.NewErrorMessage(code, err.Error()))
		},
	}
}

func (s *Session) reject(err error) {
	s.protocolErrors.Add(1)
	code := CodeFor(err)
	if s.opts.Observer != nil {
		s.opts.Observer.ProtocolError(code)
	}
	s.logger.Debug("message rejected", "error", err)
	s.emit(protocol.NewErrorMessage(code, err.Error()))
}

// emit sends m unless the session is closed. After the first transport
// failure every further message is dropped.
func (s *Session) emit(m *protocol.Message) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed || s.sendErr != nil {
		return
	}
	if err := s.sender.Send(m); err != nil {
		s.sendErr = err
		s.logger.Debug("send failed", "type", m.Type, "error", err)
		return
	}
	if s.opts.Observer != nil {
		s.opts.Observer.MessageSent(m.Type)
	}
}

func (s *Session) err() error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.sendErr
}

// Destroy closes the session: no message is emitted once it begins, the
// running cycle is cancelled and the audio buffer is released. It is
// idempotent.
func (s *Session) Destroy() {
	s.emitMu.Lock()
	already := s.closed
	s.closed = true
	s.emitMu.Unlock()
	if already {
		return
	}

	s.state.Store(int32(StateClosed))
	s.cancel()
	s.assembler.Release()

	if s.opts.Observer != nil {
		s.opts.Observer.SessionClosed(time.Since(s.created))
	}
	s.logger.Info("session closed",
		"cycles", s.cycles.Load(),
		"failures", s.failures.Load(),
		"duration", time.Since(s.created).Round(time.Millisecond),
	)
}

// Done is closed when the session is destroyed or its parent context ends.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Info is a snapshot of session state for diagnostics.
type Info struct {
	ID             string                 `json:"id"`
	State          string                 `json:"state"`
	Capabilities   pipeline.Capabilities  `json:"capabilities"`
	Peer           *pipeline.Capabilities `json:"peer,omitempty"`
	Plan           string                 `json:"plan"`
	Cycles         int64                  `json:"cycles"`
	Failures       int64                  `json:"failures"`
	ProtocolErrors int64                  `json:"protocolErrors"`
	BufferedAudio  int                    `json:"bufferedSamples"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	peer := s.Peer()
	plan, err := Plan(s.self, peer)
	planStr := plan.String()
	if err != nil {
		planStr = err.Error()
	}
	return Info{
		ID:             s.id,
		State:          s.State().String(),
		Capabilities:   s.self,
		Peer:           peer,
		Plan:           planStr,
		Cycles:         s.cycles.Load(),
		Failures:       s.failures.Load(),
		ProtocolErrors: s.protocolErrors.Load(),
		BufferedAudio:  s.assembler.Len(),
		CreatedAt:      s.created,
	}
}

// CodeFor maps an error onto its wire code.
func CodeFor(err error) protocol.ErrorCode {
	var (
		pe *protocol.Error
		ce *pipeline.ConfigurationError
		ee *pipeline.EngineError
	)
	switch {
	case errors.As(err, &pe):
		return pe.Code
	case errors.As(err, &ce):
		return protocol.CodeConfiguration
	case errors.Is(err, pipeline.ErrNotReady):
		return protocol.CodeNotReady
	case errors.As(err, &ee):
		return protocol.CodeEngine
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.CodeEngine
	}
	return protocol.CodeInternal
}
