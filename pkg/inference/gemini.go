package inference

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	providerGemini = "gemini"

	// DefaultGeminiModel is used when no model is configured.
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Gemini implements Provider on Google's Gemini API through the genai SDK.
// Gemini has no system role; leading system messages become the request's
// system instruction.
type Gemini struct {
	client *genai.Client
	config *Config
	logger *slog.Logger
}

// NewGemini creates a Gemini provider. WithBaseURL overrides the API
// endpoint; the default talks to generativelanguage.googleapis.com.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	cfg.Model = DefaultGeminiModel
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("create client: %w", err))
	}

	return &Gemini{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Name returns the provider name.
func (g *Gemini) Name() string { return providerGemini }

// Model returns the default model.
func (g *Gemini) Model() string { return g.config.Model }

// Chat generates a complete response.
func (g *Gemini) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	model, contents, cfg := g.convert(req)
	if len(contents) == 0 {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}
	text := resp.Text()
	if text == "" {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	out := &ChatResponse{
		Message:      NewAssistantMessage(text),
		FinishReason: finishReason(resp),
		Model:        model,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Stream generates a streaming response.
func (g *Gemini) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	model, contents, cfg := g.convert(req)
	if len(contents) == 0 {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, model, contents, cfg))
	return &geminiStream{next: next, stop: stop}, nil
}

// Health checks that the configured model is reachable.
func (g *Gemini) Health(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.config.Model, nil); err != nil {
		return WrapError(providerGemini, fmt.Errorf("health check: %w", err))
	}
	return nil
}

// Close releases resources.
func (g *Gemini) Close() error {
	return nil
}

func (g *Gemini) convert(req *ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	system, rest := splitSystem(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}}
	}
	if n := firstNonZero(req.MaxTokens, g.config.MaxTokens); n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	if t := firstNonZeroF(req.Temperature, g.config.Temperature); t > 0 {
		cfg.Temperature = ptr(float32(t))
	}
	if req.TopP > 0 {
		cfg.TopP = ptr(float32(req.TopP))
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	return model, geminiContents(rest), cfg
}

// geminiContents maps messages onto user and model turns. Consecutive
// messages with the same role are merged because Gemini expects the roles
// to alternate.
func geminiContents(msgs []Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.NewPartFromText(m.Content))
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	return strings.ToLower(string(resp.Candidates[0].FinishReason))
}

func ptr[T any](v T) *T { return &v }

// geminiStream adapts the SDK's iterator to Stream.
type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	mu     sync.Mutex
	closed bool
	done   bool
}

// Recv returns the next chunk.
func (s *geminiStream) Recv() (*StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.done {
		return &StreamChunk{Done: true}, nil
	}

	resp, err, ok := s.next()
	if !ok {
		s.done = true
		return &StreamChunk{Done: true}, nil
	}
	if err != nil {
		s.done = true
		return nil, WrapError(providerGemini, err)
	}

	chunk := &StreamChunk{Delta: resp.Text(), FinishReason: finishReason(resp)}
	if chunk.FinishReason != "" && chunk.FinishReason != strings.ToLower(string(genai.FinishReasonUnspecified)) {
		chunk.Done = true
		s.done = true
	}
	return chunk, nil
}

// Close stops the underlying iterator.
func (s *geminiStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.stop()
	}
	return nil
}

var _ Provider = (*Gemini)(nil)
