package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error codes carried by EventError.Code.
const (
	CodeMaxRoundTrips  = "MAX_ROUND_TRIPS"
	CodeModelTransient = "MODEL_TRANSIENT"
	CodeModelError     = "MODEL_ERROR"
	CodeAgentPanic     = "AGENT_PANIC"
	CodeAgentError     = "AGENT_ERROR"
	CodeToolValidation = "TOOL_VALIDATION_ERROR"
	CodeToolExecution  = "TOOL_EXECUTION_ERROR"
)

var (
	// ErrCancelled signals cooperative cancellation. It is never surfaced as an error event.
	ErrCancelled = errors.New("invocation cancelled")
	// ErrMaxRoundTrips is reported when the tool loop exhausts its round-trip budget.
	ErrMaxRoundTrips = errors.New("max round trips exceeded")
	// ErrDuplicateEvent is returned by SessionStore.Append for an already stored event id.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrSessionNotFound is returned by SessionStore.Get for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// ConfigError reports an invalid agent tree or configuration. It is returned at
// construction time and never retried.
type ConfigError struct {
	Component string
	Message   string
}

func (e *ConfigError) Error() string {
	if e.Component == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error in %s: %s", e.Component, e.Message)
}

// NewConfigError creates a ConfigError for component with a formatted message.
func NewConfigError(component, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Message: fmt.Sprintf(format, args...)}
}

// TransientProviderError wraps a model provider failure that may succeed on retry
// (timeouts, rate limits, 5xx responses).
type TransientProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// ToolValidationError reports arguments that do not match the tool schema.
// The tool is not invoked.
type ToolValidationError struct {
	Tool    string
	Message string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Message)
}

// ToolExecutionError wraps a failure raised while the tool ran.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientProviderError.
func IsTransient(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te)
}

// IsCancellation reports whether err represents cooperative cancellation.
// A provider timeout classified as TransientProviderError is not a
// cancellation even though it wraps context.DeadlineExceeded.
func IsCancellation(err error) bool {
	if IsTransient(err) {
		return false
	}
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
