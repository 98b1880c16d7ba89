package companion

import (
	"fmt"
)

// LaunchErrorType represents the stage at which launching failed
type LaunchErrorType int

const (
	LaunchErrorConfig LaunchErrorType = iota
	LaunchErrorStart
	LaunchErrorEarlyExit
	LaunchErrorConnect
	LaunchErrorCanceled
)

// String returns the string representation of LaunchErrorType
func (e LaunchErrorType) String() string {
	switch e {
	case LaunchErrorConfig:
		return "config"
	case LaunchErrorStart:
		return "start"
	case LaunchErrorEarlyExit:
		return "early_exit"
	case LaunchErrorConnect:
		return "connect"
	case LaunchErrorCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// LaunchError reports a companion that could not be started or reached.
type LaunchError struct {
	Type     LaunchErrorType
	Message  string
	Cause    error
	Context  map[string]interface{}
	ExitCode int
	Stderr   []string
}

// Error implements the error interface
func (e *LaunchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("companion launch %s error: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("companion launch %s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *LaunchError) Unwrap() error {
	return e.Cause
}

// NewLaunchError creates a launch error with the specified type and message
func NewLaunchError(errType LaunchErrorType, message string) *LaunchError {
	return &LaunchError{
		Type:     errType,
		Message:  message,
		Context:  make(map[string]interface{}),
		ExitCode: -1,
	}
}

// WithCause adds a cause error to the launch error
func (e *LaunchError) WithCause(cause error) *LaunchError {
	e.Cause = cause
	return e
}

// WithContext adds context information to the launch error
func (e *LaunchError) WithContext(key string, value interface{}) *LaunchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithExit records the exit code and the last stderr lines of the process
func (e *LaunchError) WithExit(code int, stderr []string) *LaunchError {
	e.ExitCode = code
	e.Stderr = stderr
	return e
}
