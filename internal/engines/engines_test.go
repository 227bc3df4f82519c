package engines

import (
	"context"
	"testing"

	"github.com/teslashibe/go-voicelink/internal/config"
	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/adapter"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
)

func TestBuildDefault(t *testing.T) {
	cfg := config.Default()
	set, err := Build(context.Background(), cfg, log.Discard())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer set.Close()

	caps := set.Slots.Capabilities()
	if !caps.HasSTT || !caps.HasLLM || !caps.HasTTS {
		t.Errorf("capabilities = %s", caps)
	}
	// Exclusive wrapping hides the bridge types.
	if _, ok := set.Slots.STT.(*adapter.STT); ok {
		t.Error("exclusive not applied")
	}
	// System prompt only.
	if len(set.Options) != 1 {
		t.Errorf("options = %d, want 1", len(set.Options))
	}
	p := pipeline.New(set.Slots, set.Options...)
	if got := p.History().Messages(); len(got) != 1 || got[0].Content != config.DefaultSystemPrompt {
		t.Errorf("history = %+v", got)
	}
}

func TestBuildNone(t *testing.T) {
	cfg := config.Default()
	cfg.STT.Engine = config.EngineNone
	cfg.TTS.Engine = config.EngineNone
	cfg.Pipeline.Exclusive = false

	set, err := Build(context.Background(), cfg, log.Discard())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer set.Close()

	if set.Slots.STT != nil || set.Slots.TTS != nil {
		t.Errorf("absent stages built: %+v", set.Slots)
	}
	if _, ok := set.Slots.LLM.(*adapter.LLM); !ok {
		t.Errorf("LLM = %T, want *adapter.LLM", set.Slots.LLM)
	}
}

func TestBuildEngines(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"openai llm", func(c *config.Config) {
			c.LLM = config.LLMConfig{Engine: config.EngineOpenAI, APIKey: "sk-test"}
		}},
		{"gemini llm", func(c *config.Config) {
			c.LLM = config.LLMConfig{Engine: config.EngineGemini, APIKey: "g-test"}
		}},
		{"fallback chain", func(c *config.Config) {
			c.LLM.Fallback = []config.LLMConfig{{Engine: config.EngineOpenAI, APIKey: "sk-test"}}
		}},
		{"openai tts", func(c *config.Config) {
			c.TTS = config.TTSConfig{Engine: config.EngineOpenAI, APIKey: "sk-test", OutputRate: 16000}
		}},
		{"sentence tts", func(c *config.Config) { c.TTS.PerSentence = true }},
		{"tts fallback chain", func(c *config.Config) {
			c.TTS.Fallback = []config.TTSConfig{{Engine: config.EngineOpenAI, APIKey: "sk-test"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("config invalid: %v", err)
			}
			set, err := Build(context.Background(), cfg, log.Discard())
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if err := set.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestBuildSentenceOption(t *testing.T) {
	cfg := config.Default()
	cfg.TTS.PerSentence = true
	set, err := Build(context.Background(), cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()
	if !pipeline.New(set.Slots, set.Options...).SentenceTTS() {
		t.Error("per-sentence TTS not enabled")
	}
}

func TestBuildUnknownEngine(t *testing.T) {
	cfg := config.Default()
	cfg.TTS.Engine = "festival"
	if _, err := Build(context.Background(), cfg, log.Discard()); err == nil {
		t.Fatal("expected error")
	}
}
