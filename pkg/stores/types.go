// Package stores persists resource snapshots and the operation journal.
// A snapshot records the last known state of one resource: the ID the
// provider assigned, the inputs the engine last applied and the outputs
// the provider reported. The journal records every provider operation
// for recovery audit after an interrupted run.
package stores

import (
	"context"
	"errors"
	"time"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
)

// ErrNotFound indicates the requested snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// ErrVersionConflict indicates a concurrent writer updated the snapshot
// since it was read.
var ErrVersionConflict = errors.New("snapshot version conflict")

// Snapshot is the recorded state of one resource.
type Snapshot struct {
	// URN is the stable logical identity of the resource.
	URN provider.URN

	// ID is the physical identity assigned by the provider. Empty while
	// a create is pending or after the resource is gone.
	ID provider.ID

	// Type is the resource type token.
	Type string

	// Inputs are the checked inputs last applied.
	Inputs property.Map

	// Outputs are the provider-computed properties last observed.
	Outputs property.Map

	// Stale marks a snapshot whose backing state is indeterminate, e.g.
	// after an interrupted Create or Delete. A Refresh clears it.
	Stale bool

	// Version is bumped on every save; Save fails with
	// ErrVersionConflict when the stored version does not match.
	Version int

	UpdatedAt time.Time
}

// OpRecord is one journal entry: a provider operation and its outcome.
type OpRecord struct {
	ID       int64
	URN      provider.URN
	Method   string
	Outcome  string
	Error    string
	Duration time.Duration
	At       time.Time
}

// Journal outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// SnapshotStore persists snapshots and the operation journal.
type SnapshotStore interface {
	// Get returns the snapshot for urn, or ErrNotFound.
	Get(ctx context.Context, urn provider.URN) (*Snapshot, error)

	// Save writes the snapshot, bumping its version. The snapshot's
	// Version must match the stored version (zero for a new snapshot)
	// or Save fails with ErrVersionConflict.
	Save(ctx context.Context, snap *Snapshot) error

	// Delete removes the snapshot for urn. Deleting an absent snapshot
	// is not an error.
	Delete(ctx context.Context, urn provider.URN) error

	// List returns all snapshots ordered by URN.
	List(ctx context.Context) ([]*Snapshot, error)

	// AppendOp appends one journal record.
	AppendOp(ctx context.Context, rec *OpRecord) error

	// ListOps returns journal records for urn, newest first, up to
	// limit. A zero limit means all.
	ListOps(ctx context.Context, urn provider.URN, limit int) ([]*OpRecord, error)

	// Close releases store resources.
	Close() error
}
