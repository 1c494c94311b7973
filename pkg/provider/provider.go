package provider

import (
	"context"
)

// Provider is the service contract a resource provider implements. The
// engine invokes operations on a given resource in stage order
// (Check -> Diff -> Create/Update/Delete); operations on distinct
// resources may run concurrently, so implementations must not share
// mutable state across calls beyond configuration established by
// Configure.
//
// Error discipline: validation problems in Check and Invoke are data,
// returned inside successful responses as CheckFailure lists. Errors
// are reserved for transport problems and operations that could not be
// applied; Create and Delete must be all-or-nothing, so an error from
// either means the backing system was left unchanged.
type Provider interface {
	// Configure establishes provider settings for the lifetime of the
	// instance. A failure caused by absent required settings is
	// reported as a *ConfigureError enumerating the missing keys.
	Configure(ctx context.Context, req ConfigureRequest) error

	// Check validates and normalizes proposed inputs without touching
	// the backing system. It is a pure function of its request and the
	// provider configuration: identical requests yield identical
	// responses. It should preserve the caller's representation of
	// semantically equivalent values, since diffing is
	// representation-sensitive.
	Check(ctx context.Context, req CheckRequest) (*CheckResponse, error)

	// Diff compares candidate inputs against previously recorded
	// inputs and decides between no-op, in-place update and
	// replacement.
	Diff(ctx context.Context, req DiffRequest) (*DiffResult, error)

	// Create makes the resource. On failure no backing object exists.
	Create(ctx context.Context, req CreateRequest) (*CreateResponse, error)

	// Read returns the live state of the resource, without mutating
	// the backing system. An empty ID in the response means the object
	// is gone.
	Read(ctx context.Context, req ReadRequest) (*ReadResponse, error)

	// Update applies the delta between old and new inputs in place.
	Update(ctx context.Context, req UpdateRequest) (*UpdateResponse, error)

	// Delete tears the resource down. Failure implies no effect; an
	// already-absent object deletes successfully.
	Delete(ctx context.Context, req DeleteRequest) error

	// Invoke calls a provider-defined function identified by token.
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)

	// Info returns provider metadata. It is safe to call at any time,
	// including before Configure.
	Info(ctx context.Context) (Info, error)

	// Close releases any resources held by the provider or its
	// connection.
	Close() error
}
