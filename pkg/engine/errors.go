package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a step failure for retry
// and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, mirror flakiness during a download.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassFatal indicates a non-recoverable failure.
	// Examples: malformed step input, permission denied, missing binary.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassResourceBusy indicates the shared package database is held
	// by a live process. Never retried automatically; surfaced as a failed
	// result naming the contender.
	ErrorClassResourceBusy ErrorClass = "resource_busy"
)

// StepError represents a classified step failure with context.
type StepError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Step is the key of the step that produced the error, if applicable.
	Step string `json:"step,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information,
	// e.g. the PID holding the package database lock.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step=%s)%s", e.Class, e.Message, e.Step, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *StepError) Is(target error) bool {
	t, ok := target.(*StepError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *StepError {
	return &StepError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *StepError {
	return &StepError{Class: ErrorClassFatal, Message: message, Err: err}
}

// NewResourceBusyError creates a new resource-busy error.
func NewResourceBusyError(message string, err error) *StepError {
	return &StepError{Class: ErrorClassResourceBusy, Message: message, Err: err}
}

// WithStep adds step context to an error.
func (e *StepError) WithStep(key string) *StepError {
	e.Step = key
	return e
}

// WithDetail adds a detail field to the error context.
func (e *StepError) WithDetail(key string, value interface{}) *StepError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *StepError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	var e *StepError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// IsResourceBusy returns true if the error indicates a live lock holder on
// the package database.
func IsResourceBusy(err error) bool {
	var e *StepError
	if errors.As(err, &e) {
		return e.Class == ErrorClassResourceBusy
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Only transient errors are retryable; resource-busy failures are surfaced
// immediately so the run keeps making forward progress.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// ConfigError represents a pipeline construction fault: duplicate step
// registration, a malformed descriptor, or invalid settings. Config errors
// abort before any step executes.
type ConfigError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Err)
	}
	return "config error: " + e.Message
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *ConfigError {
	return &ConfigError{Message: message, Err: err}
}

// IsConfigError returns true if the error is a configuration error.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}
