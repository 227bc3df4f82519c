package tts

import (
	"log/slog"
	"time"
)

// Config is the provider configuration assembled from Options.
type Config struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string

	// Speed scales speaking rate where the provider supports it. Zero keeps
	// the provider default.
	Speed float64

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice selects the voice. For Piper this is the model name.
func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

// WithModel selects the synthesis model.
func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

// WithSpeed sets the speaking rate.
func WithSpeed(speed float64) Option {
	return func(c *Config) { c.Speed = speed }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetry retries 5xx and 429 responses maxRetries times with linear backoff.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the configuration providers start from.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies opts in order. A nil logger is replaced by slog.Default.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate reports ErrNoAPIKey when no key is set.
func (c *Config) Validate() error {
	return c.require(true, false)
}

// ValidateWithVoice is Validate plus ErrNoVoiceID when no voice is set.
func (c *Config) ValidateWithVoice() error {
	return c.require(true, true)
}

func (c *Config) require(key, voice bool) error {
	switch {
	case key && c.APIKey == "":
		return ErrNoAPIKey
	case voice && c.VoiceID == "":
		return ErrNoVoiceID
	}
	return nil
}
