package property

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestValueKinds(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind Kind
	}{
		{"zero value is null", Value{}, KindNull},
		{"null", Null(), KindNull},
		{"bool", Bool(true), KindBool},
		{"number", Number(42), KindNumber},
		{"string", String("small"), KindString},
		{"array", Array([]Value{Number(1)}), KindArray},
		{"object", Object(Map{"size": String("small")}), KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Kind(); got != tt.kind {
				t.Errorf("Kind() = %v, want %v", got, tt.kind)
			}
		})
	}
}

func TestValueEqual(t *testing.T) {
	nested := Object(Map{
		"tags": Array([]Value{String("a"), String("b")}),
		"spec": Object(Map{"replicas": Number(3)}),
	})

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null equals null", Null(), Null(), true},
		{"bool mismatch", Bool(true), Bool(false), false},
		{"kind mismatch", String("1"), Number(1), false},
		{"string equal", String("x"), String("x"), true},
		{"array order matters", Array([]Value{Number(1), Number(2)}), Array([]Value{Number(2), Number(1)}), false},
		{"nested equal", nested, nested.Copy(), true},
		{
			"nested unequal",
			nested,
			Object(Map{
				"tags": Array([]Value{String("a")}),
				"spec": Object(Map{"replicas": Number(3)}),
			}),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueCopyIsDeep(t *testing.T) {
	orig := Object(Map{
		"tags": Array([]Value{String("a")}),
	})

	cp := orig.Copy()
	cp.ObjectValue()["tags"].ArrayValue()[0] = String("mutated")

	if got := orig.ObjectValue()["tags"].ArrayValue()[0].StringValue(); got != "a" {
		t.Errorf("copy aliased the original: got %q", got)
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"null", Null()},
		{"scalar", Number(3.5)},
		{
			"nested bag",
			Object(Map{
				"name":    String("web"),
				"count":   Number(2),
				"enabled": Bool(true),
				"labels":  Object(Map{"env": String("prod")}),
				"ports":   Array([]Value{Number(80), Number(443)}),
				"note":    Null(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var got Value
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !got.Equal(tt.v) {
				t.Errorf("round trip mismatch: got %v, want %v", got, tt.v)
			}
		})
	}
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    Value
		wantErr bool
	}{
		{"nil", nil, Null(), false},
		{"int widened to number", 7, Number(7), false},
		{"int64 widened to number", int64(9), Number(9), false},
		{"slice", []any{"a", 1.0}, Array([]Value{String("a"), Number(1)}), false},
		{"map", map[string]any{"k": true}, Object(Map{"k": Bool(true)}), false},
		{"unsupported type", struct{}{}, Null(), true},
		{"nested unsupported type", map[string]any{"k": make(chan int)}, Null(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromAny() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !got.Equal(tt.want) {
				t.Errorf("FromAny() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapToAnyRoundTrip(t *testing.T) {
	m := Map{
		"size":  String("small"),
		"count": Number(2),
		"spec":  Object(Map{"ha": Bool(false)}),
	}

	back, err := MapFromAny(m.ToAny())
	if err != nil {
		t.Fatalf("MapFromAny() error = %v", err)
	}
	if !back.Equal(m) {
		t.Errorf("round trip mismatch: got %v, want %v", back, m)
	}
}

func TestMapKeys(t *testing.T) {
	m := Map{"b": Null(), "a": Null(), "c": Null()}
	want := []string{"a", "b", "c"}
	if got := m.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}
