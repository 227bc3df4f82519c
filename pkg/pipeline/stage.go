package pipeline

import (
	"context"
	"encoding/json"
)

// Stage identifies one step of the voice pipeline.
type Stage string

const (
	StageSTT Stage = "stt"
	StageLLM Stage = "llm"
	StageTTS Stage = "tts"
)

// STT transcribes one finalized utterance.
type STT interface {
	Initialize(ctx context.Context) error

	// Transcribe converts mono PCM16 samples at sampleRate into text.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error)
}

// LLM generates a streaming response for a conversation.
type LLM interface {
	Initialize(ctx context.Context) error

	// Generate starts generation over the full history. Fragments are pulled
	// from the returned stream in arrival order.
	Generate(ctx context.Context, history []Message) (TokenStream, error)
}

// TokenStream is a single-consumer, ordered stream of text fragments.
type TokenStream interface {
	// Next returns the next fragment. It returns io.EOF once the response is
	// complete. Any other error aborts the stream; fragments already returned
	// stand.
	Next() (string, error)

	// Close releases the stream. It is safe to call after io.EOF.
	Close() error
}

// TTS synthesizes speech for a complete piece of text.
type TTS interface {
	Initialize(ctx context.Context) error

	// Synthesize returns mono PCM16 samples and their sample rate.
	Synthesize(ctx context.Context, text string) ([]int16, int, error)
}

// Slots holds zero-or-one adapter per stage. A nil field means this side
// does not perform the stage and the peer is expected to.
type Slots struct {
	STT STT
	LLM LLM
	TTS TTS
}

// Capabilities reports which stages one side performs locally.
type Capabilities struct {
	HasSTT bool `json:"hasSTT" msgpack:"hasSTT"`
	HasLLM bool `json:"hasLLM" msgpack:"hasLLM"`
	HasTTS bool `json:"hasTTS" msgpack:"hasTTS"`
}

// Capabilities derives the capability view of the slots.
func (s Slots) Capabilities() Capabilities {
	return Capabilities{
		HasSTT: s.STT != nil,
		HasLLM: s.LLM != nil,
		HasTTS: s.TTS != nil,
	}
}

// Has reports whether the given stage is performed locally.
func (c Capabilities) Has(stage Stage) bool {
	switch stage {
	case StageSTT:
		return c.HasSTT
	case StageLLM:
		return c.HasLLM
	case StageTTS:
		return c.HasTTS
	}
	return false
}

// String renders the capabilities as compact JSON for logs.
func (c Capabilities) String() string {
	b, _ := json.Marshal(c)
	return string(b)
}
