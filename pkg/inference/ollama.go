package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-voicelink/internal/httpc"
)

const (
	providerOllama = "ollama"

	// DefaultOllamaURL is where a local Ollama listens.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel is small enough for on-device use.
	DefaultOllamaModel = "gemma3n:e2b"
)

// Ollama talks to Ollama's native /api/chat endpoint, which streams one JSON
// object per line.
type Ollama struct {
	baseURL string
	config  *Config
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// NewOllama creates an Ollama provider. The base URL must not include /api.
func NewOllama(opts ...Option) (*Ollama, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = DefaultOllamaURL
	cfg.Model = DefaultOllamaModel
	cfg.MaxTokens = 0
	cfg.Temperature = 0
	cfg.Timeout = 60 * time.Second
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/api"),
		config:  cfg,
		http:    httpc.NewClient(cfg.Timeout),
		stream:  httpc.NewClient(cfg.StreamTimeout),
		logger:  cfg.Logger.With("component", "inference.ollama"),
	}, nil
}

// Name returns the provider name.
func (o *Ollama) Name() string { return providerOllama }

// Model returns the default model.
func (o *Ollama) Model() string { return o.config.Model }

// Chat runs a non-streaming chat request.
func (o *Ollama) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := o.post(ctx, o.http, o.payload(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var line ollamaChatLine
	if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
		return nil, WrapError(providerOllama, fmt.Errorf("decode response: %w", err))
	}
	if line.Error != "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: line.Error, Provider: providerOllama}
	}

	return &ChatResponse{
		Message:      NewAssistantMessage(line.Message.Content),
		FinishReason: line.DoneReason,
		Usage: Usage{
			PromptTokens:     line.PromptEvalCount,
			CompletionTokens: line.EvalCount,
			TotalTokens:      line.PromptEvalCount + line.EvalCount,
		},
		Model:     line.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream runs a streaming chat request.
func (o *Ollama) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	resp, err := o.post(ctx, o.stream, o.payload(req, true))
	if err != nil {
		return nil, err
	}
	return &ndjsonStream{
		scanner: newLineScanner(resp.Body),
		body:    resp.Body,
		logger:  o.logger,
	}, nil
}

// Health checks that the server answers and the model is pulled.
func (o *Ollama) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return WrapError(providerOllama, err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return WrapError(providerOllama, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return WrapError(providerOllama, fmt.Errorf("decode tags: %w", err))
	}
	for _, m := range tags.Models {
		if m.Name == o.config.Model || strings.TrimSuffix(m.Name, ":latest") == o.config.Model {
			return nil
		}
	}
	return &APIError{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("model %q not pulled; run: ollama pull %s", o.config.Model, o.config.Model),
		Provider:   providerOllama,
	}
}

// Close releases resources.
func (o *Ollama) Close() error {
	o.http.CloseIdleConnections()
	o.stream.CloseIdleConnections()
	return nil
}

func (o *Ollama) payload(req *ChatRequest, stream bool) ollamaChatRequest {
	p := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	}
	if p.Model == "" {
		p.Model = o.config.Model
	}

	opts := map[string]any{}
	if n := firstNonZero(req.MaxTokens, o.config.MaxTokens); n > 0 {
		opts["num_predict"] = n
	}
	if t := firstNonZeroF(req.Temperature, o.config.Temperature); t > 0 {
		opts["temperature"] = t
	}
	if req.TopP > 0 {
		opts["top_p"] = req.TopP
	}
	if len(req.Stop) > 0 {
		opts["stop"] = req.Stop
	}
	if len(opts) > 0 {
		p.Options = opts
	}
	return p
}

func (o *Ollama) post(ctx context.Context, hc *http.Client, payload ollamaChatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerOllama, fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerOllama, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := doWithRetry(ctx, hc, req, body, o.config, o.logger, o.parseError)
	if err != nil {
		return nil, WrapError(providerOllama, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, o.parseError(resp)
	}
	return resp, nil
}

func (o *Ollama) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := strings.TrimSpace(string(body))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message, Provider: providerOllama}
}

// ndjsonStream reads one ollamaChatLine per line. Lines that do not decode
// are skipped.
type ndjsonStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	done   bool
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return s
}

// Recv returns the next chunk.
func (s *ndjsonStream) Recv() (*StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.done {
		return &StreamChunk{Done: true}, nil
	}

	for s.scanner.Scan() {
		raw := strings.TrimSpace(s.scanner.Text())
		if raw == "" {
			continue
		}
		var line ollamaChatLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			s.logger.Debug("skipping undecodable line", "error", err)
			continue
		}
		if line.Error != "" {
			return nil, &APIError{StatusCode: http.StatusBadGateway, Message: line.Error, Provider: providerOllama}
		}
		chunk := &StreamChunk{Delta: line.Message.Content, FinishReason: line.DoneReason, Done: line.Done}
		if line.Done {
			s.done = true
		}
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, WrapError(providerOllama, fmt.Errorf("read stream: %w", err))
	}
	// Body ended without a done line.
	s.done = true
	return nil, WrapError(providerOllama, io.ErrUnexpectedEOF)
}

// Close stops the stream.
func (s *ndjsonStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonZeroF(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}

var _ Provider = (*Ollama)(nil)
