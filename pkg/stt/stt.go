// Package stt provides speech-to-text providers for finalized utterances.
//
// Providers receive a complete utterance of 16-bit mono PCM and return its
// transcript. The Whisper provider speaks the OpenAI transcription API,
// which is also served by local Whisper servers (faster-whisper-server,
// speaches, whisper.cpp) so the same code covers cloud and on-device use.
//
// Example usage:
//
//	provider, _ := stt.NewWhisper(
//	    stt.WithBaseURL("http://localhost:8000/v1"),
//	    stt.WithLanguage("en"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Transcribe(ctx, &stt.Request{Samples: pcm, SampleRate: 16000})
//	fmt.Println(result.Text)
package stt

import (
	"context"
	"time"
)

// Provider defines the STT provider interface.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Transcribe converts one utterance to text. An utterance with no
	// recognizable speech yields an empty Text, not an error.
	Transcribe(ctx context.Context, req *Request) (*Result, error)

	// Health checks provider connectivity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Request is one utterance to transcribe.
type Request struct {
	// Samples are 16-bit mono PCM samples.
	Samples []int16

	// SampleRate of Samples in Hz.
	SampleRate int

	// Language overrides the configured language hint (ISO-639-1).
	Language string

	// Prompt biases recognition towards expected vocabulary.
	Prompt string
}

// Duration returns the playback length of the request audio.
func (r *Request) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(r.SampleRate)
}

// Result is a transcription.
type Result struct {
	// Text is the recognized speech.
	Text string

	// AudioDuration is the length of the transcribed audio.
	AudioDuration time.Duration

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}
