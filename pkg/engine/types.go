// Package engine drives single resources through their lifecycle
// against a provider: plan (Check then Diff), apply (create, update,
// replace, delete), refresh (drift detection via Read) and destroy.
// Snapshots of applied state live in a stores.SnapshotStore; every
// provider operation is journaled for recovery audit.
package engine

import (
	"fmt"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
	"github.com/terrane-dev/terrane/pkg/stores"
)

// Goal is the desired state of one resource.
type Goal struct {
	// URN is the stable logical identity.
	URN provider.URN

	// Type is the resource type token.
	Type string

	// Inputs are the raw desired inputs, not yet checked.
	Inputs property.Map
}

// Action is the operation a plan decided on.
type Action string

const (
	// ActionNone means the resource already matches its goal.
	ActionNone Action = "none"
	// ActionCreate means the resource does not exist yet.
	ActionCreate Action = "create"
	// ActionUpdate means the resource is updated in place.
	ActionUpdate Action = "update"
	// ActionReplace means the resource is recreated under a new ID.
	ActionReplace Action = "replace"
	// ActionDelete means the resource is torn down.
	ActionDelete Action = "delete"
)

// Decision is the outcome of planning one resource.
type Decision struct {
	// Action is the operation to perform.
	Action Action

	// Goal is the desired state the decision was planned for.
	Goal Goal

	// Snapshot is the recorded state, nil when the resource is new.
	Snapshot *stores.Snapshot

	// Inputs are the checked inputs to apply.
	Inputs property.Map

	// Diff is the provider's diff, nil for creates.
	Diff *provider.DiffResult

	// Failures are input validation failures. When non-empty the plan
	// stopped and Action is ActionNone.
	Failures []provider.CheckFailure
}

// RefreshResult reports the outcome of one drift check.
type RefreshResult struct {
	// Gone reports that the live resource no longer exists; its
	// snapshot has been dropped.
	Gone bool

	// Drift is the difference between recorded and live values of the
	// resource's input properties, nil when in sync.
	Drift *property.ObjectDiff

	// Live is the full live property bag the provider reported.
	Live property.Map
}

// CheckFailedError reports that planning stopped on input validation
// failures.
type CheckFailedError struct {
	URN      provider.URN
	Failures []provider.CheckFailure
}

func (e *CheckFailedError) Error() string {
	return fmt.Sprintf("%s: %d input properties failed validation", e.URN, len(e.Failures))
}
