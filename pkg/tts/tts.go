// Package tts provides a unified interface for text-to-speech providers.
//
// Providers return 16-bit mono PCM together with its sample rate, ready to
// be framed into an audio message. Piper (local, via its HTTP server) and
// OpenAI are built in; Chain adds fallback between them.
//
// Example usage:
//
//	provider, _ := tts.NewPiper(
//	    tts.WithBaseURL("http://localhost:5000"),
//	    tts.WithVoice("en_US-lessac-medium"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hello world")
//	// result.Samples holds PCM16 at result.SampleRate
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
// All implementations must satisfy this interface for seamless provider switching.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Synthesize converts text to audio, returning the complete utterance.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Samples are 16-bit mono PCM.
	Samples []int16

	// SampleRate of Samples in Hz.
	SampleRate int

	// Duration is the playback duration.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}

// Well-known output rates.
const (
	// SampleRatePiper is the rate of Piper's medium-quality voices.
	SampleRatePiper = 22050

	// SampleRateOpenAI is the rate of OpenAI's raw pcm output.
	SampleRateOpenAI = 24000
)

func newResult(samples []int16, rate int, text string, start time.Time) *AudioResult {
	var d time.Duration
	if rate > 0 {
		d = time.Duration(len(samples)) * time.Second / time.Duration(rate)
	}
	return &AudioResult{
		Samples:    samples,
		SampleRate: rate,
		Duration:   d,
		CharCount:  len(text),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
}
