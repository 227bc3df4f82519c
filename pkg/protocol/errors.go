package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an error message on the wire.
type ErrorCode string

const (
	CodeConfiguration ErrorCode = "configuration" // required stage absent on this side
	CodeNotReady      ErrorCode = "not_ready"     // pipeline failed to initialize
	CodeEngine        ErrorCode = "engine"        // STT, LLM or TTS failure
	CodeProtocol      ErrorCode = "protocol"      // malformed or out-of-contract message
	CodeInternal      ErrorCode = "internal"
)

// ErrMalformed is wrapped when a frame cannot be decoded at all.
var ErrMalformed = errors.New("protocol: malformed message")

// Error is a ProtocolError: a message that this side rejects. It never ends
// the session.
type Error struct {
	Code   ErrorCode
	Type   MessageType // offending message type, if known
	Reason string
	Err    error
}

// NewError creates a protocol error.
func NewError(code ErrorCode, msgType MessageType, reason string) *Error {
	return &Error{Code: code, Type: msgType, Reason: reason}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol [%s]: %s", e.Type, e.Reason)
	}
	return "protocol: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is or wraps a *Error.
func IsProtocolError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
