// Package protocol defines the WebSocket messages exchanged between a voice
// client and the go-voicelink server. Every message is one flat object whose
// "type" field selects the remaining fields.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Server messages
	TypeEndAudio     MessageType = "end_audio"     // Utterance boundary
	TypeText         MessageType = "text"          // Already-transcribed input
	TypeClearHistory MessageType = "clear_history" // Reset conversation

	// Server → Client messages
	TypeTranscript    MessageType = "transcript"     // STT result
	TypeResponseChunk MessageType = "response_chunk" // One LLM fragment
	TypeComplete      MessageType = "complete"       // Cycle succeeded
	TypeError         MessageType = "error"          // Cycle failed or message rejected

	// Bidirectional
	TypeCapabilities MessageType = "capabilities" // Stage announcement
	TypeAudio        MessageType = "audio"        // PCM16LE fragment (in) or synthesized reply (out)
)

// Inbound reports whether a client may send this type.
func (t MessageType) Inbound() bool {
	switch t {
	case TypeCapabilities, TypeAudio, TypeEndAudio, TypeText, TypeClearHistory:
		return true
	}
	return false
}

// Outbound reports whether the server may send this type.
func (t MessageType) Outbound() bool {
	switch t {
	case TypeCapabilities, TypeTranscript, TypeResponseChunk, TypeAudio, TypeComplete, TypeError:
		return true
	}
	return false
}

// Terminal reports whether the type ends a cycle.
func (t MessageType) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Message is the single wire envelope. Unused fields are omitted.
type Message struct {
	Type MessageType `json:"type" msgpack:"type"`

	// audio
	Data       string `json:"data,omitempty" msgpack:"data,omitempty"` // base64 PCM16LE
	SampleRate int    `json:"sampleRate,omitempty" msgpack:"sampleRate,omitempty"`

	// text, transcript, response_chunk
	Text string `json:"text,omitempty" msgpack:"text,omitempty"`

	// error
	Message string    `json:"message,omitempty" msgpack:"message,omitempty"`
	Code    ErrorCode `json:"code,omitempty" msgpack:"code,omitempty"`

	// capabilities; nil means not declared
	HasSTT *bool `json:"hasSTT,omitempty" msgpack:"hasSTT,omitempty"`
	HasLLM *bool `json:"hasLLM,omitempty" msgpack:"hasLLM,omitempty"`
	HasTTS *bool `json:"hasTTS,omitempty" msgpack:"hasTTS,omitempty"`
}

// Validate checks the fields required by m.Type for an inbound message.
func (m *Message) Validate() error {
	if m.Type == "" {
		return NewError(CodeProtocol, "", "missing message type")
	}
	if !m.Type.Inbound() {
		return NewError(CodeProtocol, m.Type, fmt.Sprintf("unknown message type %q", m.Type))
	}
	switch m.Type {
	case TypeAudio:
		if m.Data == "" {
			return NewError(CodeProtocol, m.Type, "audio message without data")
		}
		if m.SampleRate < 0 {
			return NewError(CodeProtocol, m.Type, fmt.Sprintf("invalid sampleRate %d", m.SampleRate))
		}
	case TypeText:
		if m.Text == "" {
			return NewError(CodeProtocol, m.Type, "text message without text")
		}
	}
	return nil
}

// String renders the message as JSON with audio payloads elided, for logs.
func (m *Message) String() string {
	c := *m
	if len(c.Data) > 32 {
		c.Data = fmt.Sprintf("<%d base64 bytes>", len(m.Data))
	}
	b, _ := json.Marshal(c)
	return string(b)
}
