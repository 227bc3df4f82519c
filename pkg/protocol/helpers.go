package protocol

import (
	"encoding/base64"

	"github.com/teslashibe/go-voicelink/pkg/audio"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewCapabilitiesMessage announces which stages the sender performs.
func NewCapabilitiesMessage(hasSTT, hasLLM, hasTTS bool) *Message {
	return &Message{
		Type:   TypeCapabilities,
		HasSTT: &hasSTT,
		HasLLM: &hasLLM,
		HasTTS: &hasTTS,
	}
}

// NewAudioMessage encodes samples as a base64 PCM16LE audio message.
func NewAudioMessage(samples []int16, sampleRate int) *Message {
	return &Message{
		Type:       TypeAudio,
		Data:       audio.EncodeBase64PCM(samples),
		SampleRate: sampleRate,
	}
}

// NewEndAudioMessage marks the end of an utterance.
func NewEndAudioMessage() *Message {
	return &Message{Type: TypeEndAudio}
}

// NewTextMessage carries already-transcribed input.
func NewTextMessage(text string) *Message {
	return &Message{Type: TypeText, Text: text}
}

// NewClearHistoryMessage resets the conversation.
func NewClearHistoryMessage() *Message {
	return &Message{Type: TypeClearHistory}
}

// NewTranscriptMessage reports an STT result.
func NewTranscriptMessage(text string) *Message {
	return &Message{Type: TypeTranscript, Text: text}
}

// NewResponseChunkMessage carries one LLM fragment.
func NewResponseChunkMessage(text string) *Message {
	return &Message{Type: TypeResponseChunk, Text: text}
}

// NewCompleteMessage ends a successful cycle.
func NewCompleteMessage() *Message {
	return &Message{Type: TypeComplete}
}

// NewErrorMessage reports a failure.
func NewErrorMessage(code ErrorCode, message string) *Message {
	return &Message{Type: TypeError, Code: code, Message: message}
}

// PCM decodes the base64 payload of m into raw PCM16LE bytes. The byte count
// may be odd when a fragment ends mid-sample. A missing sample rate defaults
// to audio.DefaultInputRate.
func (m *Message) PCM() ([]byte, int, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, 0, &Error{Code: CodeProtocol, Type: m.Type, Reason: "invalid base64 audio", Err: err}
	}
	rate := m.SampleRate
	if rate == 0 {
		rate = audio.DefaultInputRate
	}
	return raw, rate, nil
}

// Samples decodes the audio payload of m into whole samples.
func (m *Message) Samples() ([]int16, int, error) {
	raw, rate, err := m.PCM()
	if err != nil {
		return nil, 0, err
	}
	samples, err := audio.DecodePCM16LE(raw)
	if err != nil {
		return nil, 0, &Error{Code: CodeProtocol, Type: m.Type, Reason: err.Error(), Err: err}
	}
	return samples, rate, nil
}

// DeclaredCapabilities returns the flags carried by a capabilities message
// and whether all three were present.
func (m *Message) DeclaredCapabilities() (hasSTT, hasLLM, hasTTS, ok bool) {
	if m.HasSTT == nil || m.HasLLM == nil || m.HasTTS == nil {
		return false, false, false, false
	}
	return *m.HasSTT, *m.HasLLM, *m.HasTTS, true
}
