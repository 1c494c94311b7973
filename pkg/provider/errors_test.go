package provider

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigureErrorMessage(t *testing.T) {
	err := &ConfigureError{
		Missing: []MissingConfig{
			{Name: "namespace", Description: "object namespace"},
			{Name: "region", Description: "placement region"},
		},
	}

	msg := err.Error()
	if !strings.Contains(msg, "namespace") || !strings.Contains(msg, "region") {
		t.Errorf("Error() = %q, want both missing key names", msg)
	}

	var cfgErr *ConfigureError
	if !errors.As(fmt.Errorf("configure: %w", err), &cfgErr) {
		t.Error("errors.As failed to find ConfigureError through a wrap")
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"transient", NewTransientError("timeout", nil), ClassTransient},
		{"throttled", NewThrottledError("rate limited", nil), ClassThrottled},
		{"conflict", NewConflictError("etag mismatch", nil), ClassConflict},
		{"permanent", NewPermanentError("no such flavor", nil), ClassPermanent},
		{
			"wrapped transient",
			fmt.Errorf("create: %w", NewTransientError("timeout", errors.New("i/o"))),
			ClassTransient,
		},
		{"unclassified defaults to permanent", errors.New("boom"), ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("ClassOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient retries", NewTransientError("timeout", nil), true},
		{"throttled retries", NewThrottledError("slow down", nil), true},
		{"conflict does not", NewConflictError("conflict", nil), false},
		{"permanent does not", NewPermanentError("bad input", nil), false},
		{"plain error does not", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransientError("create interrupted", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is failed to reach the cause")
	}
	if !strings.Contains(err.Error(), "transient") {
		t.Errorf("Error() = %q, want class in message", err.Error())
	}
}
