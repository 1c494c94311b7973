package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terrane-dev/terrane/pkg/provider"
)

// MemoryStore implements SnapshotStore in process memory. Used by tests
// and by runs that do not need persistence.
type MemoryStore struct {
	mu     sync.RWMutex
	snaps  map[provider.URN]*Snapshot
	ops    []*OpRecord
	nextOp int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps: make(map[provider.URN]*Snapshot),
	}
}

// Get implements SnapshotStore.
func (m *MemoryStore) Get(_ context.Context, urn provider.URN) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snaps[urn]
	if !ok {
		return nil, fmt.Errorf("%s: %w", urn, ErrNotFound)
	}
	return copySnapshot(snap), nil
}

// Save implements SnapshotStore.
func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := 0
	if existing, ok := m.snaps[snap.URN]; ok {
		current = existing.Version
	}
	if snap.Version != current {
		return fmt.Errorf("%s: stored version %d, saving %d: %w",
			snap.URN, current, snap.Version, ErrVersionConflict)
	}

	snap.Version = current + 1
	snap.UpdatedAt = time.Now().UTC()
	m.snaps[snap.URN] = copySnapshot(snap)
	return nil
}

// Delete implements SnapshotStore.
func (m *MemoryStore) Delete(_ context.Context, urn provider.URN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, urn)
	return nil
}

// List implements SnapshotStore.
func (m *MemoryStore) List(_ context.Context) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]*Snapshot, 0, len(m.snaps))
	for _, snap := range m.snaps {
		snaps = append(snaps, copySnapshot(snap))
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].URN < snaps[j].URN })
	return snaps, nil
}

// AppendOp implements SnapshotStore.
func (m *MemoryStore) AppendOp(_ context.Context, rec *OpRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOp++
	rec.ID = m.nextOp
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	stored := *rec
	m.ops = append(m.ops, &stored)
	return nil
}

// ListOps implements SnapshotStore.
func (m *MemoryStore) ListOps(_ context.Context, urn provider.URN, limit int) ([]*OpRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := []*OpRecord{}
	for i := len(m.ops) - 1; i >= 0; i-- {
		if m.ops[i].URN != urn {
			continue
		}
		rec := *m.ops[i]
		recs = append(recs, &rec)
		if limit > 0 && len(recs) == limit {
			break
		}
	}
	return recs, nil
}

// Close implements SnapshotStore.
func (m *MemoryStore) Close() error {
	return nil
}

func copySnapshot(snap *Snapshot) *Snapshot {
	out := *snap
	out.Inputs = snap.Inputs.Copy()
	out.Outputs = snap.Outputs.Copy()
	return &out
}
