// Package engines builds pipeline stages from configuration.
package engines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/teslashibe/go-voicelink/internal/config"
	"github.com/teslashibe/go-voicelink/pkg/adapter"
	"github.com/teslashibe/go-voicelink/pkg/inference"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/stt"
	"github.com/teslashibe/go-voicelink/pkg/tts"
)

// Set is the configured stages plus the resources behind them.
type Set struct {
	Slots pipeline.Slots

	// Options are the pipeline options implied by the configuration.
	Options []pipeline.Option

	closers []io.Closer
}

// Close releases every engine. It returns the joined close errors.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build creates the stages selected by cfg. A stage whose engine is "none"
// stays empty and is left to the peer.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set := &Set{}

	if cfg.STT.Engine != config.EngineNone {
		provider, err := newSTT(cfg.STT, logger)
		if err != nil {
			return nil, fmt.Errorf("stt: %w", err)
		}
		bridge := adapter.NewSTT(provider, adapter.WithLogger(logger.With("component", "stt")))
		set.Slots.STT = bridge
		set.closers = append(set.closers, bridge)
	}

	if cfg.LLM.Engine != config.EngineNone {
		provider, err := newLLMChain(ctx, cfg.LLM, logger)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("llm: %w", err)
		}
		bridge := adapter.NewLLM(provider,
			adapter.WithGeneration("", cfg.LLM.MaxTokens, cfg.LLM.Temperature),
			adapter.WithLogger(logger.With("component", "llm")),
		)
		set.Slots.LLM = bridge
		set.closers = append(set.closers, bridge)
	}

	if cfg.TTS.Engine != config.EngineNone {
		provider, err := newTTSChain(cfg.TTS, logger)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("tts: %w", err)
		}
		bridge := adapter.NewTTS(provider,
			adapter.WithOutputRate(cfg.TTS.OutputRate),
			adapter.WithLogger(logger.With("component", "tts")),
		)
		set.Slots.TTS = bridge
		set.closers = append(set.closers, bridge)
		if cfg.TTS.PerSentence {
			set.Options = append(set.Options, pipeline.WithSentenceTTS())
		}
	}

	if cfg.Pipeline.Exclusive {
		set.Slots = pipeline.Exclusive(set.Slots)
	}
	if cfg.Pipeline.SystemPrompt != "" {
		set.Options = append(set.Options, pipeline.WithSystemPrompt(cfg.Pipeline.SystemPrompt))
	}

	logger.Info("engines configured",
		"stt", cfg.STT.Engine,
		"llm", cfg.LLM.Engine,
		"llm_fallbacks", len(cfg.LLM.Fallback),
		"tts", cfg.TTS.Engine,
		"tts_fallbacks", len(cfg.TTS.Fallback),
		"exclusive", cfg.Pipeline.Exclusive,
		"capabilities", set.Slots.Capabilities().String(),
	)
	return set, nil
}

func newSTT(cfg config.STTConfig, logger *slog.Logger) (stt.Provider, error) {
	switch cfg.Engine {
	case config.EngineWhisper:
		return stt.NewWhisper(
			stt.WithBaseURL(cfg.BaseURL),
			stt.WithAPIKey(cfg.APIKey),
			stt.WithModel(cfg.Model),
			stt.WithLanguage(cfg.Language),
			stt.WithTimeout(cfg.Timeout),
			stt.WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unsupported engine: %s", cfg.Engine)
	}
}

func newLLMChain(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (inference.Provider, error) {
	primary, err := newLLM(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallback) == 0 {
		return primary, nil
	}

	providers := []inference.Provider{primary}
	for i, fb := range cfg.Fallback {
		p, err := newLLM(ctx, fb, logger)
		if err != nil {
			for _, built := range providers {
				built.Close()
			}
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		providers = append(providers, p)
	}
	return inference.NewChainWithLogger(logger, providers...)
}

func newLLM(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (inference.Provider, error) {
	opts := []inference.Option{
		inference.WithModel(cfg.Model),
		inference.WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, inference.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, inference.WithAPIKey(cfg.APIKey))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, inference.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, inference.WithTemperature(cfg.Temperature))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, inference.WithTimeout(cfg.Timeout))
	}

	switch cfg.Engine {
	case config.EngineOllama:
		return inference.NewOllama(opts...)
	case config.EngineOpenAI:
		return inference.NewClient(opts...)
	case config.EngineGemini:
		return inference.NewGemini(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported engine: %s", cfg.Engine)
	}
}

func newTTSChain(cfg config.TTSConfig, logger *slog.Logger) (tts.Provider, error) {
	primary, err := newTTS(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallback) == 0 {
		return primary, nil
	}

	providers := []tts.Provider{primary}
	for i, fb := range cfg.Fallback {
		p, err := newTTS(fb, logger)
		if err != nil {
			for _, built := range providers {
				built.Close()
			}
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		providers = append(providers, p)
	}
	return tts.NewChainWithLogger(logger, providers...)
}

func newTTS(cfg config.TTSConfig, logger *slog.Logger) (tts.Provider, error) {
	opts := []tts.Option{
		tts.WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, tts.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, tts.WithAPIKey(cfg.APIKey))
	}
	if cfg.Voice != "" {
		opts = append(opts, tts.WithVoice(cfg.Voice))
	}
	if cfg.Model != "" {
		opts = append(opts, tts.WithModel(cfg.Model))
	}
	if cfg.Speed > 0 {
		opts = append(opts, tts.WithSpeed(cfg.Speed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, tts.WithTimeout(cfg.Timeout))
	}

	switch cfg.Engine {
	case config.EnginePiper:
		return tts.NewPiper(opts...)
	case config.EngineOpenAI:
		return tts.NewOpenAI(opts...)
	default:
		return nil, fmt.Errorf("unsupported engine: %s", cfg.Engine)
	}
}
