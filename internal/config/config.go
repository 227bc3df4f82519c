// Package config loads the voicelink server configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine names accepted per stage. EngineNone leaves the stage to the peer.
const (
	EngineNone    = "none"
	EngineWhisper = "whisper"
	EngineOllama  = "ollama"
	EngineOpenAI  = "openai"
	EngineGemini  = "gemini"
	EnginePiper   = "piper"
)

// DefaultSystemPrompt seeds every new conversation.
const DefaultSystemPrompt = "You are a helpful voice assistant. Keep your responses very brief and concise—ideally 1 sentence. " +
	"Speak naturally as if having a conversation. Avoid lists, markdown, or lengthy explanations unless explicitly asked. " +
	"The user sometimes makes typos or autocorrects the wrong thing. Make assumptions about what they may have meant and respond as if they said that."

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	STT      STTConfig      `yaml:"stt"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Codec is used when a client does not ask for one: json or msgpack.
	Codec string `yaml:"codec"`

	// CycleTimeout bounds one STT/LLM/TTS cycle. Zero means no limit.
	CycleTimeout time.Duration `yaml:"cycle_timeout"`

	// MaxSessions caps concurrent connections. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// MaxMessageBytes caps one inbound frame.
	MaxMessageBytes int `yaml:"max_message_bytes"`

	CORSOrigins     string        `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PipelineConfig configures conversation handling.
type PipelineConfig struct {
	SystemPrompt string `yaml:"system_prompt"`

	// Shared binds every connection to one conversation.
	Shared bool `yaml:"shared"`

	// Exclusive serializes access to each engine across sessions, for
	// engines that can only serve one request at a time.
	Exclusive bool `yaml:"exclusive"`
}

// STTConfig configures speech recognition.
type STTConfig struct {
	Engine   string        `yaml:"engine"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LLMConfig configures response generation.
type LLMConfig struct {
	Engine      string        `yaml:"engine"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	// MaxTokens and Temperature leave the engine default in place when zero.
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`

	// Fallback engines are tried in order when the primary cannot open a
	// stream.
	Fallback []LLMConfig `yaml:"fallback"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Engine  string        `yaml:"engine"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Voice   string        `yaml:"voice"`
	Model   string        `yaml:"model"`
	Speed   float64       `yaml:"speed"`
	Timeout time.Duration `yaml:"timeout"`

	// PerSentence synthesizes each sentence as soon as it is complete.
	PerSentence bool `yaml:"per_sentence"`

	// OutputRate resamples synthesized audio. Zero keeps the engine rate.
	OutputRate int `yaml:"output_rate"`

	// Fallback engines take over when synthesis fails. Only their engine
	// and connection fields are used.
	Fallback []TTSConfig `yaml:"fallback"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration of the reference deployment: local
// Whisper server, Ollama and Piper.
func Default() *Config {
	cfg := base()
	cfg.ApplyDefaults()
	return cfg
}

// base holds the engine choices and engine-independent settings. Engine
// settings are filled after the file is read so that switching engines does
// not inherit another engine's URL or voice.
func base() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Codec:           "json",
			MaxMessageBytes: 4 << 20,
			CORSOrigins:     "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			SystemPrompt: DefaultSystemPrompt,
			Exclusive:    true,
		},
		STT:     STTConfig{Engine: EngineWhisper},
		LLM:     LLMConfig{Engine: EngineOllama},
		TTS:     TTSConfig{Engine: EnginePiper},
		Logging: LoggingConfig{Level: "info"},
	}
}

// ApplyDefaults fills unset engine settings for the selected engines.
func (c *Config) ApplyDefaults() {
	c.STT.applyDefaults()
	c.LLM.applyDefaults()
	for i := range c.LLM.Fallback {
		c.LLM.Fallback[i].applyDefaults()
	}
	for _, t := range c.ttss() {
		t.applyDefaults()
	}
}

func (s *STTConfig) applyDefaults() {
	if s.Engine != EngineWhisper {
		return
	}
	setDefault(&s.BaseURL, "http://localhost:8080/v1")
	setDefault(&s.Model, "Systran/faster-whisper-base.en")
	setDefault(&s.Language, "en")
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
}

func (l *LLMConfig) applyDefaults() {
	switch l.Engine {
	case EngineOllama:
		setDefault(&l.BaseURL, "http://localhost:11434")
		setDefault(&l.Model, "gemma3n:e2b")
	case EngineOpenAI:
		setDefault(&l.BaseURL, "https://api.openai.com/v1")
		setDefault(&l.Model, "gpt-4o-mini")
	case EngineGemini:
		setDefault(&l.Model, "gemini-2.0-flash")
	default:
		return
	}
	if l.Timeout == 0 {
		l.Timeout = 60 * time.Second
	}
}

func (t *TTSConfig) applyDefaults() {
	switch t.Engine {
	case EnginePiper:
		setDefault(&t.BaseURL, "http://localhost:5000")
		setDefault(&t.Voice, "en_US-lessac-medium")
	case EngineOpenAI:
		setDefault(&t.BaseURL, "https://api.openai.com/v1")
		setDefault(&t.Voice, "alloy")
		setDefault(&t.Model, "tts-1")
	default:
		return
	}
	if t.Timeout == 0 {
		t.Timeout = 30 * time.Second
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := base()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. Keys are only applied
// to engines that use them.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT=%q", ErrInvalid, v)
		}
		c.Server.Port = port
	}
	if v := getenv("VOICELINK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("OLLAMA_BASE_URL"); v != "" {
		for _, l := range c.llms() {
			if l.Engine == EngineOllama {
				l.BaseURL = v
			}
		}
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		for _, l := range c.llms() {
			if l.Engine == EngineOpenAI && l.APIKey == "" {
				l.APIKey = v
			}
		}
		for _, t := range c.ttss() {
			if t.Engine == EngineOpenAI && t.APIKey == "" {
				t.APIKey = v
			}
		}
		if c.STT.Engine == EngineWhisper && c.STT.APIKey == "" && strings.Contains(c.STT.BaseURL, "api.openai.com") {
			c.STT.APIKey = v
		}
	}
	if v := getenv("GOOGLE_API_KEY"); v != "" {
		for _, l := range c.llms() {
			if l.Engine == EngineGemini && l.APIKey == "" {
				l.APIKey = v
			}
		}
	}
	return nil
}

// llms returns the primary LLM section followed by its fallbacks.
func (c *Config) llms() []*LLMConfig {
	out := []*LLMConfig{&c.LLM}
	for i := range c.LLM.Fallback {
		out = append(out, &c.LLM.Fallback[i])
	}
	return out
}

// ttss returns the primary TTS section followed by its fallbacks.
func (c *Config) ttss() []*TTSConfig {
	out := []*TTSConfig{&c.TTS}
	for i := range c.TTS.Fallback {
		out = append(out, &c.TTS.Fallback[i])
	}
	return out
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates the server section.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalid, s.Port)
	}
	if s.Codec != "json" && s.Codec != "msgpack" {
		return fmt.Errorf("%w: codec must be json or msgpack, got %q", ErrInvalid, s.Codec)
	}
	if s.CycleTimeout < 0 {
		return fmt.Errorf("%w: cycle_timeout must not be negative", ErrInvalid)
	}
	if s.MaxSessions < 0 {
		return fmt.Errorf("%w: max_sessions must not be negative", ErrInvalid)
	}
	if s.MaxMessageBytes < 1024 {
		return fmt.Errorf("%w: max_message_bytes must be at least 1024, got %d", ErrInvalid, s.MaxMessageBytes)
	}
	return nil
}

// Validate validates the STT section.
func (s *STTConfig) Validate() error {
	switch s.Engine {
	case EngineNone:
		return nil
	case EngineWhisper:
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, s.Engine)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("%w: base_url required for %s", ErrInvalid, s.Engine)
	}
	if s.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalid)
	}
	return nil
}

// Validate validates the LLM section and its fallbacks.
func (l *LLMConfig) Validate() error {
	switch l.Engine {
	case EngineNone:
		if len(l.Fallback) > 0 {
			return fmt.Errorf("%w: fallback requires a primary engine", ErrInvalid)
		}
		return nil
	case EngineOllama, EngineOpenAI:
		if l.BaseURL == "" {
			return fmt.Errorf("%w: base_url required for %s", ErrInvalid, l.Engine)
		}
	case EngineGemini:
		if l.APIKey == "" {
			return fmt.Errorf("%w: api_key (or GOOGLE_API_KEY) required for gemini", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, l.Engine)
	}
	if l.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalid)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2, got %v", ErrInvalid, l.Temperature)
	}
	for i := range l.Fallback {
		if len(l.Fallback[i].Fallback) > 0 {
			return fmt.Errorf("%w: fallback %d must not nest fallbacks", ErrInvalid, i)
		}
		if l.Fallback[i].Engine == EngineNone {
			return fmt.Errorf("%w: fallback %d has engine none", ErrInvalid, i)
		}
		if err := l.Fallback[i].Validate(); err != nil {
			return fmt.Errorf("fallback %d: %w", i, err)
		}
	}
	return nil
}

// Validate validates the TTS section.
func (t *TTSConfig) Validate() error {
	switch t.Engine {
	case EngineNone:
		if len(t.Fallback) > 0 {
			return fmt.Errorf("%w: fallback requires a primary engine", ErrInvalid)
		}
		return nil
	case EnginePiper:
		if t.BaseURL == "" {
			return fmt.Errorf("%w: base_url required for piper", ErrInvalid)
		}
	case EngineOpenAI:
		if t.APIKey == "" {
			return fmt.Errorf("%w: api_key (or OPENAI_API_KEY) required for openai", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, t.Engine)
	}
	if t.Speed < 0 {
		return fmt.Errorf("%w: speed must not be negative", ErrInvalid)
	}
	if t.OutputRate < 0 || (t.OutputRate > 0 && t.OutputRate < 8000) {
		return fmt.Errorf("%w: output_rate must be 0 or at least 8000, got %d", ErrInvalid, t.OutputRate)
	}
	for i := range t.Fallback {
		if len(t.Fallback[i].Fallback) > 0 {
			return fmt.Errorf("%w: fallback %d must not nest fallbacks", ErrInvalid, i)
		}
		if t.Fallback[i].Engine == EngineNone {
			return fmt.Errorf("%w: fallback %d has engine none", ErrInvalid, i)
		}
		if err := t.Fallback[i].Validate(); err != nil {
			return fmt.Errorf("fallback %d: %w", i, err)
		}
	}
	return nil
}

// Validate validates the logging section.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("%w: unknown log level %q", ErrInvalid, l.Level)
}

// Marshal renders the configuration as YAML with secrets masked.
func (c *Config) Marshal() ([]byte, error) {
	masked := *c
	masked.STT.APIKey = mask(c.STT.APIKey)
	masked.LLM.APIKey = mask(c.LLM.APIKey)
	masked.TTS.APIKey = mask(c.TTS.APIKey)
	masked.LLM.Fallback = make([]LLMConfig, len(c.LLM.Fallback))
	for i, fb := range c.LLM.Fallback {
		fb.APIKey = mask(fb.APIKey)
		masked.LLM.Fallback[i] = fb
	}
	masked.TTS.Fallback = make([]TTSConfig, len(c.TTS.Fallback))
	for i, fb := range c.TTS.Fallback {
		fb.APIKey = mask(fb.APIKey)
		masked.TTS.Fallback[i] = fb
	}
	return yaml.Marshal(&masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
