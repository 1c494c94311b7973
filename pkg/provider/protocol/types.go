// Package protocol implements the wire form of the resource-provider
// protocol: a line-delimited JSON envelope exchanged over any
// byte-stream channel (a plugin's stdio, a socket, or an in-memory
// pipe in tests). The engine-side Client and provider-side Server in
// this package speak the envelope; the request/response payloads are
// the types from pkg/provider.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/terrane-dev/terrane/pkg/provider"
)

// MessageType represents the type of an envelope message.
type MessageType string

const (
	// MessageTypeReady is sent once by the provider when it is ready
	// to accept calls; it carries the provider's plugin info.
	MessageTypeReady MessageType = "READY"
	// MessageTypeCall is a request from the engine.
	MessageTypeCall MessageType = "CALL"
	// MessageTypeResult is a successful response to a call.
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError is a failed response to a call.
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit asks the provider to terminate.
	MessageTypeExit MessageType = "EXIT"
)

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCall, MessageTypeResult,
		MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Method identifies a provider operation on the wire.
type Method string

const (
	// MethodConfigure establishes provider settings.
	MethodConfigure Method = "configure"
	// MethodCheck validates and normalizes inputs.
	MethodCheck Method = "check"
	// MethodDiff compares candidate inputs against recorded inputs.
	MethodDiff Method = "diff"
	// MethodCreate creates the resource.
	MethodCreate Method = "create"
	// MethodRead reads live resource state.
	MethodRead Method = "read"
	// MethodUpdate updates the resource in place.
	MethodUpdate Method = "update"
	// MethodDelete tears the resource down.
	MethodDelete Method = "delete"
	// MethodInvoke calls a provider-defined function.
	MethodInvoke Method = "invoke"
	// MethodInfo returns provider metadata.
	MethodInfo Method = "info"
)

// Validate checks if the method is valid.
func (m Method) Validate() error {
	switch m {
	case MethodConfigure, MethodCheck, MethodDiff, MethodCreate,
		MethodRead, MethodUpdate, MethodDelete, MethodInvoke, MethodInfo:
		return nil
	default:
		return fmt.Errorf("invalid method: %s", m)
	}
}

// Message is the base envelope for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the provider is ready to accept calls.
type ReadyMessage struct {
	// Protocol is the envelope version, bumped on incompatible change.
	Protocol int `json:"protocol"`

	// Info is the provider's plugin metadata.
	Info provider.Info `json:"info"`
}

// ProtocolVersion is the envelope version this package speaks.
const ProtocolVersion = 1

// CallMessage is a single request. Calls on distinct resources may be
// in flight concurrently, so responses are correlated by ID.
type CallMessage struct {
	// ID correlates the eventual RESULT or ERROR with this call. IDs
	// are assigned by the caller and must be unique per connection.
	ID uint64 `json:"id"`

	// Method is the provider operation to invoke.
	Method Method `json:"method"`

	// Payload is the JSON-encoded request struct for the method.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks if the call message is valid.
func (c *CallMessage) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("call ID is required")
	}
	return c.Method.Validate()
}

// ResultMessage is the successful response to a call.
type ResultMessage struct {
	// CallID is the ID of the call being answered.
	CallID uint64 `json:"call_id"`

	// Payload is the JSON-encoded response struct for the method.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Error codes carried on the wire. Codes distinguish structured
// failure shapes the engine reconstructs into typed errors.
const (
	// CodeMissingConfiguration marks a Configure failure whose Details
	// enumerate the absent required keys.
	CodeMissingConfiguration = "missing_configuration"

	// CodeNotConfigured marks a call issued before Configure.
	CodeNotConfigured = "not_configured"

	// CodeInvalidCall marks a malformed or unknown call.
	CodeInvalidCall = "invalid_call"

	// CodeOperationFailed marks a classified operation failure.
	CodeOperationFailed = "operation_failed"

	// CodeInternal marks an unclassified provider failure.
	CodeInternal = "internal"
)

// ErrorMessage is the failed response to a call.
type ErrorMessage struct {
	// CallID is the ID of the call being answered. Zero means the
	// error is not tied to a specific call (e.g. a malformed line).
	CallID uint64 `json:"call_id,omitempty"`

	// Code identifies the failure shape.
	Code string `json:"code"`

	// Class is the retry classification of the failure.
	Class provider.ErrorClass `json:"class,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Retryable reports whether the caller may retry the call.
	Retryable bool `json:"retryable"`

	// Details carries structured error detail; for
	// CodeMissingConfiguration it is the JSON-encoded list of missing
	// configuration keys.
	Details json.RawMessage `json:"details,omitempty"`
}

// ExitMessage asks the provider to terminate.
type ExitMessage struct {
	Reason string `json:"reason,omitempty"`
}

// ParsePayload parses a message or call payload into a typed struct.
func ParsePayload(payload json.RawMessage, target any) error {
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}
	return nil
}
