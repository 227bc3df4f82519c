package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline state.
var (
	// ErrNotReady is returned when a cycle is requested before Initialize
	// succeeded.
	ErrNotReady = errors.New("pipeline: not ready")

	// ErrMissingStage is wrapped by ConfigurationError.
	ErrMissingStage = errors.New("pipeline: required stage absent")
)

// ConfigurationError reports a cycle that needs a stage this pipeline does
// not hold.
type ConfigurationError struct {
	Op    string
	Stage Stage
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pipeline: %s requires %s, which is not configured on this side", e.Op, e.Stage)
}

// Unwrap returns ErrMissingStage.
func (e *ConfigurationError) Unwrap() error {
	return ErrMissingStage
}

// EngineError wraps a failure reported by a stage adapter.
type EngineError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("pipeline [%s]: %v", e.Stage, e.Err)
}

// Unwrap returns the adapter error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func engineError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Stage: stage, Err: err}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsEngine reports whether err is an EngineError.
func IsEngine(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
