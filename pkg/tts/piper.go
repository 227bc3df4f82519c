package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voicelink/internal/httpc"
	"github.com/teslashibe/go-voicelink/pkg/audio"
)

const (
	providerPiper = "piper"

	// DefaultPiperURL is where `python -m piper.http_server` listens.
	DefaultPiperURL = "http://localhost:5000"

	// DefaultPiperVoice is the voice the server loads by default.
	DefaultPiperVoice = "en_US-lessac-medium"
)

// Piper synthesizes speech through a Piper HTTP server. The server answers
// with a WAV file whose header carries the voice's sample rate.
type Piper struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewPiper creates a Piper provider. No API key is needed.
func NewPiper(opts ...Option) (*Piper, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = DefaultPiperURL
	cfg.VoiceID = DefaultPiperVoice
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, WrapError(providerPiper, fmt.Errorf("base URL required"))
	}

	return &Piper{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.piper"),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

// Name returns the provider name.
func (p *Piper) Name() string { return providerPiper }

// Synthesize converts text to audio.
func (p *Piper) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	payload := piperRequest{Text: text, Voice: p.config.VoiceID}
	if p.config.Speed > 0 {
		// Piper expresses speed as phoneme length; larger is slower.
		payload.LengthScale = 1 / p.config.Speed
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerPiper, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerPiper, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := doWithRetry(ctx, p.client, req, body, p.config, p.logger, func(r *http.Response) error {
		return parseError(providerPiper, r)
	})
	if err != nil {
		return nil, WrapError(providerPiper, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(providerPiper, resp)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerPiper, fmt.Errorf("read response: %w", err))
	}
	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, WrapError(providerPiper, err)
	}
	if len(samples) == 0 {
		return nil, WrapError(providerPiper, ErrEmptyAudio)
	}

	result := newResult(samples, rate, text, start)
	p.logger.Debug("synthesized audio",
		"chars", len(text),
		"samples", len(samples),
		"rate", rate,
		"latency_ms", result.LatencyMs,
	)
	return result, nil
}

// Health checks that the server answers.
func (p *Piper) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/voices", nil)
	if err != nil {
		return WrapError(providerPiper, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return WrapError(providerPiper, fmt.Errorf("health check: %w", err))
	}
	// Older servers have no /voices route but still answer.
	if resp.StatusCode >= 500 {
		defer resp.Body.Close()
		return parseError(providerPiper, resp)
	}
	httpc.Drain(resp.Body)
	return nil
}

// Close releases resources.
func (p *Piper) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

type piperRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice,omitempty"`
	LengthScale float64 `json:"length_scale,omitempty"`
}

var _ Provider = (*Piper)(nil)
