package property

import (
	"reflect"
	"testing"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name        string
		olds        Map
		news        Map
		wantNil     bool
		wantAdds    []string
		wantDeletes []string
		wantUpdates []string
	}{
		{
			name:    "equal bags diff to nil",
			olds:    Map{"size": String("small")},
			news:    Map{"size": String("small")},
			wantNil: true,
		},
		{
			name:    "both empty",
			olds:    Map{},
			news:    Map{},
			wantNil: true,
		},
		{
			name:     "first creation adds everything",
			olds:     Map{},
			news:     Map{"size": String("small"), "zone": String("a")},
			wantAdds: []string{"size", "zone"},
		},
		{
			name:        "update and delete",
			olds:        Map{"size": String("small"), "note": String("x")},
			news:        Map{"size": String("large")},
			wantDeletes: []string{"note"},
			wantUpdates: []string{"size"},
		},
		{
			name:        "null counts as absent",
			olds:        Map{"size": String("small"), "gone": Null()},
			news:        Map{"size": Null(), "added": String("v"), "gone": Null()},
			wantAdds:    []string{"added"},
			wantDeletes: []string{"size"},
		},
		{
			name:        "nested object change is one update",
			olds:        Map{"spec": Object(Map{"replicas": Number(1)})},
			news:        Map{"spec": Object(Map{"replicas": Number(3)})},
			wantUpdates: []string{"spec"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diff(tt.olds, tt.news)
			if tt.wantNil {
				if d != nil {
					t.Fatalf("Diff() = %+v, want nil", d)
				}
				return
			}
			if d == nil {
				t.Fatal("Diff() = nil, want changes")
			}
			if got := sortedMapKeys(d.Adds); !equalStrings(got, tt.wantAdds) {
				t.Errorf("Adds = %v, want %v", got, tt.wantAdds)
			}
			if got := sortedMapKeys(d.Deletes); !equalStrings(got, tt.wantDeletes) {
				t.Errorf("Deletes = %v, want %v", got, tt.wantDeletes)
			}
			if got := sortedUpdateKeys(d.Updates); !equalStrings(got, tt.wantUpdates) {
				t.Errorf("Updates = %v, want %v", got, tt.wantUpdates)
			}
		})
	}
}

func TestObjectDiffKeysAndChanged(t *testing.T) {
	d := Diff(
		Map{"size": String("small"), "note": String("x"), "zone": String("a")},
		Map{"size": String("large"), "zone": String("a"), "tier": String("gold")},
	)
	if d == nil {
		t.Fatal("Diff() = nil, want changes")
	}

	want := []string{"note", "size", "tier"}
	if got := d.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if d.Changed("zone") {
		t.Error("Changed(zone) = true, want false")
	}
	if !d.Changed("tier") {
		t.Error("Changed(tier) = false, want true")
	}

	var nilDiff *ObjectDiff
	if nilDiff.Changed("size") || nilDiff.Keys() != nil {
		t.Error("nil diff must report no changes")
	}
}

func sortedMapKeys(m map[string]Value) []string {
	return Map(m).Keys()
}

func sortedUpdateKeys(m map[string]ValueDiff) []string {
	keys := make(Map, len(m))
	for k := range m {
		keys[k] = Null()
	}
	return keys.Keys()
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
