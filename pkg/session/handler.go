package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
)

// ErrHandlerClosed is returned by Open after Close.
var ErrHandlerClosed = errors.New("session: handler closed")

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Slots are the adapters shared by every session.
	Slots pipeline.Slots

	// PipelineOptions are applied to every pipeline the handler creates.
	PipelineOptions []pipeline.Option

	// Shared binds every session to one pipeline and therefore one
	// conversation. By default each session gets its own history.
	Shared bool

	// CycleTimeout bounds one cycle. Zero means no limit.
	CycleTimeout time.Duration

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	Observer Observer
	Logger   *slog.Logger
}

// ErrTooManySessions is returned by Open when MaxSessions is reached.
var ErrTooManySessions = errors.New("session: too many sessions")

// Handler creates sessions and binds them to pipelines.
type Handler struct {
	cfg    HandlerConfig
	caps   pipeline.Capabilities
	logger *slog.Logger

	// shared is the pipeline used in shared mode; template otherwise.
	// Initializing it initializes the adapters once for everyone.
	shared *pipeline.Pipeline

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	opened   atomic.Int64
	recorder *pipeline.Recorder
	opts     []pipeline.Option
}

// recentCycles is how many cycles the latency summary averages over.
const recentCycles = 100

// NewHandler creates a handler. Call Initialize before Open.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Component("session")
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	recorder := pipeline.NewRecorder(recentCycles)
	opts := append(append([]pipeline.Option(nil), cfg.PipelineOptions...), pipeline.WithObserver(recorder))
	return &Handler{
		cfg:      cfg,
		caps:     cfg.Slots.Capabilities(),
		logger:   logger,
		shared:   pipeline.New(cfg.Slots, opts...),
		sessions: make(map[string]*Session),
		recorder: recorder,
		opts:     opts,
	}
}

// Initialize initializes the shared adapters.
func (h *Handler) Initialize(ctx context.Context) error {
	return h.shared.Initialize(ctx)
}

// Ready reports whether the adapters are initialized.
func (h *Handler) Ready() bool {
	return h.shared.Ready()
}

// Capabilities returns the capabilities every session announces.
func (h *Handler) Capabilities() pipeline.Capabilities {
	return h.caps
}

// Open creates, registers and starts a session for a new connection.
func (h *Handler) Open(ctx context.Context, sender Sender) (*Session, error) {
	p, err := h.pipelineFor(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	s := New(ctx, id, p, sender, Options{
		CycleTimeout: h.cfg.CycleTimeout,
		Observer:     h.cfg.Observer,
		Logger:       h.logger,
	})

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.cancel()
		return nil, ErrHandlerClosed
	}
	if h.cfg.MaxSessions > 0 && len(h.sessions) >= h.cfg.MaxSessions {
		h.mu.Unlock()
		s.cancel()
		return nil, ErrTooManySessions
	}
	h.sessions[id] = s
	h.mu.Unlock()
	h.opened.Add(1)

	if err := s.Start(); err != nil {
		h.Close(s)
		return nil, err
	}
	return s, nil
}

// pipelineFor returns the pipeline a new session should drive. Per-session
// pipelines share the adapters but not the history.
func (h *Handler) pipelineFor(ctx context.Context) (*pipeline.Pipeline, error) {
	if err := h.shared.Initialize(ctx); err != nil {
		return nil, err
	}
	if h.cfg.Shared {
		return h.shared, nil
	}
	p := pipeline.New(h.cfg.Slots, h.opts...)
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Close destroys s and forgets it.
func (h *Handler) Close(s *Session) {
	s.Destroy()
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
}

// Get returns a registered session.
func (h *Handler) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Count returns the number of open sessions.
func (h *Handler) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown destroys every session and rejects new ones.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Destroy()
	}
	h.logger.Info("session handler shut down", "sessions", len(sessions))
}

// HandlerInfo aggregates capability and session information.
type HandlerInfo struct {
	Capabilities pipeline.Capabilities `json:"capabilities"`
	Ready        bool                  `json:"ready"`
	Shared       bool                  `json:"shared"`
	SentenceTTS  bool                  `json:"sentenceTTS"`
	Active       int                   `json:"active"`
	TotalOpened  int64                 `json:"totalOpened"`
	Latency      Latency               `json:"latency"`
	Sessions     []Info                `json:"sessions,omitempty"`
}

// Latency averages the stage latencies of recent completed cycles, in
// milliseconds.
type Latency struct {
	Cycles     int     `json:"cycles"`
	STT        float64 `json:"sttMs"`
	FirstChunk float64 `json:"firstChunkMs"`
	LLM        float64 `json:"llmMs"`
	TTS        float64 `json:"ttsMs"`
	Total      float64 `json:"totalMs"`
}

func latencyOf(r *pipeline.Recorder) Latency {
	avg, n := r.Average()
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return Latency{
		Cycles:     n,
		STT:        ms(avg.STTLatency),
		FirstChunk: ms(avg.FirstChunk),
		LLM:        ms(avg.LLMLatency),
		TTS:        ms(avg.TTSLatency),
		Total:      ms(avg.Total),
	}
}

// Info returns aggregate information. Session details are included when
// withSessions is set, ordered by creation time.
func (h *Handler) Info(withSessions bool) HandlerInfo {
	h.mu.RLock()
	info := HandlerInfo{
		Capabilities: h.caps,
		Ready:        h.shared.Ready(),
		Shared:       h.cfg.Shared,
		SentenceTTS:  h.shared.SentenceTTS(),
		Active:       len(h.sessions),
		TotalOpened:  h.opened.Load(),
		Latency:      latencyOf(h.recorder),
	}
	var sessions []*Session
	if withSessions {
		sessions = make([]*Session, 0, len(h.sessions))
		for _, s := range h.sessions {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		info.Sessions = append(info.Sessions, s.Info())
	}
	sort.Slice(info.Sessions, func(i, j int) bool {
		return info.Sessions[i].CreatedAt.Before(info.Sessions[j].CreatedAt)
	})
	return info
}
