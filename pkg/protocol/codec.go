package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes messages for one transport framing.
type Codec interface {
	Name() string

	// Binary reports whether frames should be sent as binary websocket
	// messages rather than text.
	Binary() bool

	Marshal(m *Message) ([]byte, error)
	Unmarshal(data []byte) (*Message, error)
}

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// Msgpack encodes the same envelope with MessagePack.
var Msgpack Codec = msgpackCodec{}

// CodecFor returns the codec registered under name. An empty name selects
// JSON.
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "msgpack", "messagepack":
		return Msgpack, nil
	}
	return nil, fmt.Errorf("protocol: unknown codec %q", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (jsonCodec) Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: CodeProtocol, Reason: "invalid JSON: " + err.Error(), Err: ErrMalformed}
	}
	return &m, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

func (msgpackCodec) Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: CodeProtocol, Reason: "invalid msgpack: " + err.Error(), Err: ErrMalformed}
	}
	return &m, nil
}
