package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" {
		t.Errorf("Addr = %q", cfg.Server.Addr())
	}
	if cfg.Pipeline.SystemPrompt != DefaultSystemPrompt {
		t.Error("default system prompt not set")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicelink.yaml")
	data := `
server:
  port: 9000
  codec: msgpack
  cycle_timeout: 45s
  max_sessions: 4
pipeline:
  shared: true
llm:
  engine: openai
  base_url: http://localhost:8081/v1
  model: llama3
  api_key: sk-test
  fallback:
    - engine: ollama
      base_url: http://localhost:11434
      model: gemma3n:e2b
tts:
  engine: none
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Codec != "msgpack" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.CycleTimeout != 45*time.Second {
		t.Errorf("CycleTimeout = %v", cfg.Server.CycleTimeout)
	}
	if !cfg.Pipeline.Shared {
		t.Error("Shared not loaded")
	}
	if cfg.LLM.Engine != EngineOpenAI || len(cfg.LLM.Fallback) != 1 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.Fallback[0].Timeout != 60*time.Second {
		t.Errorf("fallback defaults not applied: %+v", cfg.LLM.Fallback[0])
	}
	if cfg.TTS.Engine != EngineNone {
		t.Errorf("tts engine = %q", cfg.TTS.Engine)
	}
	// Untouched sections keep their defaults.
	if cfg.STT.Engine != EngineWhisper || cfg.STT.Language != "en" {
		t.Errorf("stt = %+v", cfg.STT)
	}
}

func TestEngineDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openai.yaml")
	data := `
llm:
  engine: gemini
  api_key: g-key
tts:
  engine: openai
  api_key: sk-test
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "gemini-2.0-flash" || cfg.LLM.BaseURL != "" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.TTS.Voice != "alloy" || cfg.TTS.Model != "tts-1" || cfg.TTS.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("tts = %+v", cfg.TTS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                "7000",
		"OLLAMA_BASE_URL":     "http://gpu:11434",
		"OPENAI_API_KEY":      "sk-env",
		"VOICELINK_LOG_LEVEL": "debug",
	}
	cfg := Default()
	cfg.TTS.Engine = EngineOpenAI
	cfg.TTS.Fallback = []TTSConfig{{Engine: EngineOpenAI}, {Engine: EnginePiper}}
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.LLM.BaseURL != "http://gpu:11434" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.TTS.APIKey != "sk-env" {
		t.Errorf("TTS.APIKey = %q", cfg.TTS.APIKey)
	}
	if cfg.TTS.Fallback[0].APIKey != "sk-env" || cfg.TTS.Fallback[1].APIKey != "" {
		t.Errorf("TTS fallbacks = %+v", cfg.TTS.Fallback)
	}
	if cfg.LLM.APIKey != "" {
		t.Error("OPENAI_API_KEY should not apply to the ollama engine")
	}
	if cfg.STT.APIKey != "" {
		t.Error("OPENAI_API_KEY should not apply to a local whisper server")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestApplyEnvBadPort(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) string {
		if k == "PORT" {
			return "eighty"
		}
		return ""
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server"},
		{"bad codec", func(c *Config) { c.Server.Codec = "xml" }, "server"},
		{"negative timeout", func(c *Config) { c.Server.CycleTimeout = -time.Second }, "server"},
		{"small frames", func(c *Config) { c.Server.MaxMessageBytes = 10 }, "server"},
		{"unknown stt", func(c *Config) { c.STT.Engine = "vosk" }, "stt"},
		{"stt no model", func(c *Config) { c.STT.Model = "" }, "stt"},
		{"unknown llm", func(c *Config) { c.LLM.Engine = "claude" }, "llm"},
		{"gemini without key", func(c *Config) { c.LLM.Engine = EngineGemini }, "llm"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm"},
		{"fallback without primary", func(c *Config) {
			c.LLM.Engine = EngineNone
			c.LLM.Fallback = []LLMConfig{{Engine: EngineOllama}}
		}, "llm"},
		{"fallback none", func(c *Config) {
			c.LLM.Fallback = []LLMConfig{{Engine: EngineNone}}
		}, "llm"},
		{"fallback invalid", func(c *Config) {
			c.LLM.Fallback = []LLMConfig{{Engine: EngineOllama, BaseURL: "http://x"}}
		}, "llm"},
		{"openai tts without key", func(c *Config) { c.TTS.Engine = EngineOpenAI }, "tts"},
		{"output rate", func(c *Config) { c.TTS.OutputRate = 100 }, "tts"},
		{"piper without url", func(c *Config) { c.TTS.BaseURL = "" }, "tts"},
		{"tts fallback without key", func(c *Config) {
			c.TTS.Fallback = []TTSConfig{{Engine: EngineOpenAI}}
		}, "tts"},
		{"tts fallback without primary", func(c *Config) {
			c.TTS.Engine = EngineNone
			c.TTS.Fallback = []TTSConfig{{Engine: EnginePiper, BaseURL: "http://x"}}
		}, "tts"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }, "logging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.HasPrefix(err.Error(), tt.section+" config:") {
				t.Errorf("error %q not attributed to %s", err, tt.section)
			}
		})
	}
}

func TestValidateNoneEngines(t *testing.T) {
	cfg := Default()
	cfg.STT = STTConfig{Engine: EngineNone}
	cfg.LLM = LLMConfig{Engine: EngineNone}
	cfg.TTS = TTSConfig{Engine: EngineNone}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestMarshalMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret"
	cfg.LLM.Fallback = []LLMConfig{{Engine: EngineOpenAI, APIKey: "sk-other"}}
	cfg.TTS.Fallback = []TTSConfig{{Engine: EngineOpenAI, APIKey: "sk-voice"}}

	out, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if strings.Contains(s, "sk-secret") || strings.Contains(s, "sk-other") || strings.Contains(s, "sk-voice") {
		t.Errorf("secret leaked:\n%s", s)
	}
	if !strings.Contains(s, "****") {
		t.Error("mask not rendered")
	}
	if cfg.LLM.APIKey != "sk-secret" || cfg.LLM.Fallback[0].APIKey != "sk-other" {
		t.Error("Marshal mutated the config")
	}
}
