package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned by provider operations invoked before a
// successful Configure call.
var ErrNotConfigured = errors.New("provider is not configured")

// MissingConfig is one required configuration key absent from a
// Configure request.
type MissingConfig struct {
	// Name is the configuration key.
	Name string `json:"name"`

	// Description explains what the key is for, to make the failure
	// actionable.
	Description string `json:"description"`
}

// ConfigureError reports that Configure failed because required
// settings were absent. It is structured error detail, not a generic
// message, so callers can render precise per-key diagnostics.
type ConfigureError struct {
	Missing []MissingConfig `json:"missing"`
}

// Error implements the error interface.
func (e *ConfigureError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = m.Name
	}
	return fmt.Sprintf("missing required configuration: %s", strings.Join(names, ", "))
}

// ErrorClass classifies an operation error for the caller's retry
// policy. The distinction between a transient transport problem and a
// permanent semantic rejection is explicit rather than inferred from
// error text.
type ErrorClass string

const (
	// ClassTransient marks a temporary failure that may succeed on
	// retry, e.g. a timeout or momentary unavailability.
	ClassTransient ErrorClass = "transient"

	// ClassThrottled marks rate limiting or quota exhaustion; retry
	// with backoff.
	ClassThrottled ErrorClass = "throttled"

	// ClassConflict marks a state conflict such as a concurrent
	// modification of the backing object.
	ClassConflict ErrorClass = "conflict"

	// ClassPermanent marks a non-recoverable failure; retrying the
	// same call cannot succeed.
	ClassPermanent ErrorClass = "permanent"
)

// Retryable reports whether the caller may retry an error of this
// class.
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient || c == ClassThrottled
}

// Validate checks that the value is a known member of the enumeration.
func (c ErrorClass) Validate() error {
	switch c {
	case ClassTransient, ClassThrottled, ClassConflict, ClassPermanent:
		return nil
	default:
		return fmt.Errorf("invalid error class: %q", string(c))
	}
}

// Error is a classified provider operation error.
type Error struct {
	// Class drives the caller's retry decision.
	Class ErrorClass `json:"class"`

	// Code is an optional machine-readable code.
	Code string `json:"code,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransientError creates a transient classified error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a throttled classified error.
func NewThrottledError(message string, err error) *Error {
	return &Error{Class: ClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a conflict classified error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a permanent classified error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ClassPermanent, Message: message, Err: err}
}

// ClassOf extracts the class from an error chain. Unclassified errors
// report ClassPermanent: an unknown failure must not be retried
// blindly against a side-effecting operation.
func ClassOf(err error) ErrorClass {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Class
	}
	return ClassPermanent
}

// IsRetryable reports whether the error chain carries a retryable
// class.
func IsRetryable(err error) bool {
	return ClassOf(err).Retryable()
}
