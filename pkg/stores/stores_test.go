package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
)

// each implementation must behave identically through the interface.
func stores(t *testing.T) map[string]SnapshotStore {
	t.Helper()

	sqlite, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "terrane.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := sqlite.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	return map[string]SnapshotStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func sampleSnapshot(urn provider.URN) *Snapshot {
	return &Snapshot{
		URN:  urn,
		ID:   "mem-1",
		Type: "memory:index:object",
		Inputs: property.Map{
			"name": property.String("web"),
			"zone": property.String("a"),
		},
		Outputs: property.Map{
			"generation": property.Number(1),
		},
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			snap := sampleSnapshot("urn:terrane:dev::memory:index:object::web")
			if err := store.Save(ctx, snap); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if snap.Version != 1 {
				t.Errorf("Version after first save = %d, want 1", snap.Version)
			}

			got, err := store.Get(ctx, snap.URN)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.ID != snap.ID || got.Type != snap.Type || got.Version != 1 {
				t.Errorf("Get() = %+v, want id %s type %s version 1", got, snap.ID, snap.Type)
			}
			if !got.Inputs.Equal(snap.Inputs) {
				t.Errorf("Inputs = %v, want %v", got.Inputs, snap.Inputs)
			}
			if !got.Outputs.Equal(snap.Outputs) {
				t.Errorf("Outputs = %v, want %v", got.Outputs, snap.Outputs)
			}
			if got.Stale {
				t.Error("Stale = true, want false")
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			_, err := store.Get(context.Background(), "urn:terrane:dev::t::missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSaveVersionConflict(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			snap := sampleSnapshot("urn:terrane:dev::t::web")
			if err := store.Save(ctx, snap); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			// A writer holding the old version must be rejected.
			behind := sampleSnapshot(snap.URN)
			behind.Version = 0
			if err := store.Save(ctx, behind); !errors.Is(err, ErrVersionConflict) {
				t.Errorf("Save() with stale version error = %v, want ErrVersionConflict", err)
			}

			// The current holder advances.
			snap.Stale = true
			if err := store.Save(ctx, snap); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}
			if snap.Version != 2 {
				t.Errorf("Version after second save = %d, want 2", snap.Version)
			}

			got, err := store.Get(ctx, snap.URN)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !got.Stale {
				t.Error("Stale flag was not persisted")
			}
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			snap := sampleSnapshot("urn:terrane:dev::t::web")
			if err := store.Save(ctx, snap); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if err := store.Delete(ctx, snap.URN); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := store.Delete(ctx, snap.URN); err != nil {
				t.Errorf("repeated Delete() error = %v, want nil", err)
			}
			if _, err := store.Get(ctx, snap.URN); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestListOrdered(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			for _, urn := range []provider.URN{
				"urn:terrane:dev::t::charlie",
				"urn:terrane:dev::t::alpha",
				"urn:terrane:dev::t::bravo",
			} {
				if err := store.Save(ctx, sampleSnapshot(urn)); err != nil {
					t.Fatalf("Save(%s) error = %v", urn, err)
				}
			}

			snaps, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(snaps) != 3 {
				t.Fatalf("List() returned %d snapshots, want 3", len(snaps))
			}
			for i := 1; i < len(snaps); i++ {
				if snaps[i-1].URN >= snaps[i].URN {
					t.Errorf("List() not ordered: %s before %s", snaps[i-1].URN, snaps[i].URN)
				}
			}
		})
	}
}

func TestOperationJournal(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			urn := provider.URN("urn:terrane:dev::t::web")
			records := []*OpRecord{
				{URN: urn, Method: "create", Outcome: OutcomeOK, Duration: 20 * time.Millisecond},
				{URN: urn, Method: "update", Outcome: OutcomeFailed, Error: "at capacity", Duration: time.Millisecond},
				{URN: "urn:terrane:dev::t::other", Method: "create", Outcome: OutcomeOK},
				{URN: urn, Method: "delete", Outcome: OutcomeOK},
			}
			for i, rec := range records {
				rec.At = time.Date(2026, 8, 23, 12, 0, i, 0, time.UTC)
				if err := store.AppendOp(ctx, rec); err != nil {
					t.Fatalf("AppendOp(%d) error = %v", i, err)
				}
				if rec.ID == 0 {
					t.Errorf("AppendOp(%d) did not assign an ID", i)
				}
			}

			ops, err := store.ListOps(ctx, urn, 0)
			if err != nil {
				t.Fatalf("ListOps() error = %v", err)
			}
			if len(ops) != 3 {
				t.Fatalf("ListOps() returned %d records, want 3", len(ops))
			}
			// Newest first.
			if ops[0].Method != "delete" || ops[1].Method != "update" || ops[2].Method != "create" {
				t.Errorf("ListOps() order = %s, %s, %s", ops[0].Method, ops[1].Method, ops[2].Method)
			}
			if ops[1].Outcome != OutcomeFailed || ops[1].Error != "at capacity" {
				t.Errorf("failed record = %+v, want failed outcome with error", ops[1])
			}

			limited, err := store.ListOps(ctx, urn, 1)
			if err != nil {
				t.Fatalf("ListOps() with limit error = %v", err)
			}
			if len(limited) != 1 || limited[0].Method != "delete" {
				t.Errorf("limited ListOps() = %+v, want single delete record", limited)
			}
		})
	}
}
