package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/teslashibe/go-voicelink/internal/httpc"
	"github.com/teslashibe/go-voicelink/pkg/audio"
)

const providerWhisper = "whisper"

// Whisper transcribes through an OpenAI-compatible /audio/transcriptions
// endpoint. Audio is uploaded as a WAV file.
type Whisper struct {
	client *openai.Client
	config *Config
	logger *slog.Logger
}

// NewWhisper creates a Whisper provider. The API key is optional for local
// servers.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/"),
		option.WithHTTPClient(httpc.NewClient(cfg.Timeout)),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	} else {
		// The SDK insists on a key; local servers ignore it.
		clientOpts = append(clientOpts, option.WithAPIKey("local"))
	}
	client := openai.NewClient(clientOpts...)

	return &Whisper{
		client: &client,
		config: cfg,
		logger: cfg.Logger.With("component", "stt.whisper"),
	}, nil
}

// Name returns the provider name.
func (w *Whisper) Name() string { return providerWhisper }

// Model returns the configured model.
func (w *Whisper) Model() string { return w.config.Model }

// Transcribe uploads the utterance and returns the recognized text.
func (w *Whisper) Transcribe(ctx context.Context, req *Request) (*Result, error) {
	if req.SampleRate <= 0 {
		return nil, WrapError(providerWhisper, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, req.SampleRate))
	}
	if len(req.Samples) == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	wav, err := audio.EncodeWAV(req.Samples, req.SampleRate)
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: openai.AudioModel(w.config.Model),
	}
	if lang := firstNonEmpty(req.Language, w.config.Language); lang != "" {
		params.Language = openai.String(lang)
	}
	if req.Prompt != "" {
		params.Prompt = openai.String(req.Prompt)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, w.convertError(err)
	}

	result := &Result{
		Text:          strings.TrimSpace(resp.Text),
		AudioDuration: req.Duration(),
		LatencyMs:     time.Since(start).Milliseconds(),
	}
	w.logger.Debug("transcribed", "audio", result.AudioDuration, "latency_ms", result.LatencyMs, "chars", len(result.Text))
	return result, nil
}

// Health checks that the configured model is served.
func (w *Whisper) Health(ctx context.Context) error {
	if _, err := w.client.Models.Get(ctx, w.config.Model); err != nil {
		return w.convertError(err)
	}
	return nil
}

// Close releases resources.
func (w *Whisper) Close() error {
	return nil
}

func (w *Whisper) convertError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(apiErr.RawJSON())
		}
		return &APIError{StatusCode: apiErr.StatusCode, Message: msg, Provider: providerWhisper}
	}
	return WrapError(providerWhisper, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Provider = (*Whisper)(nil)
