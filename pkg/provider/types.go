// Package provider defines the resource-provider protocol: the data
// model and service contract between the reconciliation engine and a
// provider plugin that creates, reads, updates and deletes externally
// managed resources. The engine drives each resource through
// Configure (once) -> Check -> Diff -> one of Create/Update/Delete,
// with Read for drift reconciliation and Invoke/Info as stage-less
// operations.
package provider

import (
	"fmt"

	"github.com/terrane-dev/terrane/pkg/property"
)

// URN is the stable, engine-assigned logical identifier of a resource
// instance. It is opaque to providers and never changes across the
// resource's lifetime.
type URN string

// String returns the URN as a plain string.
func (u URN) String() string { return string(u) }

// ID is the provider-assigned identifier of the live object in the
// backing system. It is empty until the object exists.
type ID string

// String returns the ID as a plain string.
func (i ID) String() string { return string(i) }

// CheckFailure is a single structured validation failure for one named
// property. Check and Invoke return these inside successful responses;
// a non-empty list means the caller must not proceed with the inputs.
type CheckFailure struct {
	// Property is the name of the property that failed validation.
	Property string `json:"property"`

	// Reason is a human-readable description of the failure.
	Reason string `json:"reason"`
}

// String renders the failure for diagnostics.
func (f CheckFailure) String() string {
	return fmt.Sprintf("%s: %s", f.Property, f.Reason)
}

// DiffChanges is the tri-state outcome of a Diff call. It is an
// explicit enumeration rather than a boolean so that legacy providers
// that cannot diff report DiffUnknown, which callers must treat as
// "assume changes exist".
type DiffChanges string

const (
	// DiffUnknown indicates the provider offered no change information.
	DiffUnknown DiffChanges = "unknown"
	// DiffNone indicates no update is required.
	DiffNone DiffChanges = "none"
	// DiffSome indicates an update or replacement is required.
	DiffSome DiffChanges = "some"
)

// Validate checks that the value is a known member of the enumeration.
func (c DiffChanges) Validate() error {
	switch c {
	case DiffUnknown, DiffNone, DiffSome:
		return nil
	default:
		return fmt.Errorf("invalid diff changes value: %q", string(c))
	}
}

// DiffResult describes how new inputs differ from old inputs for one
// resource.
type DiffResult struct {
	// Changes reports whether an update is required.
	Changes DiffChanges `json:"changes"`

	// Replaces lists properties whose change forces the resource to be
	// replaced rather than updated in place. Each entry must name a
	// property present in the new inputs.
	Replaces []string `json:"replaces,omitempty"`

	// Stables lists properties guaranteed never to change across any
	// diff for this resource. This is an optimization hint only.
	Stables []string `json:"stables,omitempty"`

	// DeleteBeforeReplace dictates replacement ordering: true means the
	// old object must be deleted before the new one is created (for
	// objects that cannot coexist, e.g. singleton names); false means
	// create-then-delete, the safer default.
	DeleteBeforeReplace bool `json:"deleteBeforeReplace,omitempty"`
}

// Replacement reports whether applying this diff requires replacing the
// resource.
func (d DiffResult) Replacement() bool {
	return len(d.Replaces) > 0
}

// Validate checks the result's internal invariants against the new
// inputs it was computed from: the changes value must be a known
// enumerant, a "none" result must not carry replacement keys, and every
// replacement key must name a property in news.
func (d DiffResult) Validate(news property.Map) error {
	if err := d.Changes.Validate(); err != nil {
		return err
	}
	if d.Changes == DiffNone && len(d.Replaces) > 0 {
		return fmt.Errorf("diff reported no changes but lists %d replacement keys", len(d.Replaces))
	}
	for _, key := range d.Replaces {
		if !news.HasKey(key) {
			return fmt.Errorf("replacement key %q does not name a new input property", key)
		}
	}
	return nil
}

// Info is the provider metadata returned by the Info operation. It must
// be available at any time, including before Configure.
type Info struct {
	// Name is the provider package name.
	Name string `json:"name"`

	// Version is the provider's semantic version string.
	Version string `json:"version"`

	// Description describes what this provider manages.
	Description string `json:"description,omitempty"`

	// Functions lists the tokens accepted by Invoke, if the provider
	// chooses to advertise them.
	Functions []string `json:"functions,omitempty"`
}

// ConfigureRequest carries provider-specific settings, e.g. credentials
// or a region, as plain key/value strings.
type ConfigureRequest struct {
	Variables map[string]string `json:"variables,omitempty"`
}

// CheckRequest asks the provider to validate and normalize proposed
// inputs. Olds carries the previously recorded inputs and is empty on
// first creation.
type CheckRequest struct {
	URN  URN          `json:"urn"`
	Olds property.Map `json:"olds,omitempty"`
	News property.Map `json:"news,omitempty"`
}

// CheckResponse returns the normalized inputs and any validation
// failures. Callers must inspect Failures even when the call succeeds.
type CheckResponse struct {
	Inputs   property.Map   `json:"inputs,omitempty"`
	Failures []CheckFailure `json:"failures,omitempty"`
}

// DiffRequest asks the provider to compare candidate inputs against the
// previously recorded inputs. ID is empty for not-yet-created
// resources.
type DiffRequest struct {
	ID   ID           `json:"id,omitempty"`
	URN  URN          `json:"urn"`
	Olds property.Map `json:"olds,omitempty"`
	News property.Map `json:"news,omitempty"`
}

// CreateRequest asks the provider to create the resource. The call is
// all-or-nothing: on failure no backing object may remain observable.
type CreateRequest struct {
	URN        URN          `json:"urn"`
	Properties property.Map `json:"properties,omitempty"`
}

// CreateResponse returns the assigned physical ID and any properties
// computed as a side effect of creation.
type CreateResponse struct {
	ID         ID           `json:"id"`
	Properties property.Map `json:"properties,omitempty"`
}

// ReadRequest asks the provider for the current live state of a
// resource. Properties may carry partial state needed to disambiguate
// the object when the ID alone is insufficient.
type ReadRequest struct {
	ID         ID           `json:"id"`
	URN        URN          `json:"urn"`
	Properties property.Map `json:"properties,omitempty"`
}

// ReadResponse returns the resolved ID and the full live-state bag. An
// empty ID signals the object no longer exists and must be treated as
// deleted.
type ReadResponse struct {
	ID         ID           `json:"id"`
	Properties property.Map `json:"properties,omitempty"`
}

// UpdateRequest asks the provider to apply the delta implied by News
// versus Olds to the live object. It is only issued after a Diff that
// reported changes with no replacement keys.
type UpdateRequest struct {
	ID   ID           `json:"id"`
	URN  URN          `json:"urn"`
	Olds property.Map `json:"olds,omitempty"`
	News property.Map `json:"news,omitempty"`
}

// UpdateResponse returns any properties recomputed by the update.
type UpdateResponse struct {
	Properties property.Map `json:"properties,omitempty"`
}

// DeleteRequest asks the provider to tear down the resource. Properties
// carries current state for providers that need more than the ID. On
// failure the caller assumes the object still exists; deleting an
// already-absent object must succeed so that retries converge.
type DeleteRequest struct {
	ID         ID           `json:"id"`
	URN        URN          `json:"urn"`
	Properties property.Map `json:"properties,omitempty"`
}

// InvokeRequest calls a provider-defined function, independent of any
// resource instance.
type InvokeRequest struct {
	// Tok identifies the function, e.g. "memory:index:list".
	Tok string `json:"tok"`

	// Args carries the function arguments.
	Args property.Map `json:"args,omitempty"`
}

// InvokeResponse returns the function result, or argument validation
// failures in the same result-carried style as Check.
type InvokeResponse struct {
	Return   property.Map   `json:"return,omitempty"`
	Failures []CheckFailure `json:"failures,omitempty"`
}
