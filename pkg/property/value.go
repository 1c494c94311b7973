// Package property implements the dynamically typed property bags that
// flow across the resource-provider protocol. A bag is a mapping from
// property name to a Value, where a Value is null, a bool, a number, a
// string, an array of values, or a nested bag. The protocol moves bags
// without interpreting them; providers convert them to and from their
// own strongly typed structures at the edges.
package property

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind string

const (
	// KindNull is the null value.
	KindNull Kind = "null"
	// KindBool is a boolean value.
	KindBool Kind = "bool"
	// KindNumber is a numeric value (IEEE 754 double, as on the wire).
	KindNumber Kind = "number"
	// KindString is a string value.
	KindString Kind = "string"
	// KindArray is an ordered list of values.
	KindArray Kind = "array"
	// KindObject is a nested property bag.
	KindObject Kind = "object"
)

// Value is a tagged union over the property data model. The zero Value
// is null. Values are treated as immutable; use Copy before mutating
// nested arrays or objects that may be shared.
type Value struct {
	v any
}

// Null returns the null value.
func Null() Value {
	return Value{}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{v: b}
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{v: n}
}

// String returns a string value.
func String(s string) Value {
	return Value{v: s}
}

// Array returns an array value.
func Array(vs []Value) Value {
	return Value{v: vs}
}

// Object returns a nested bag value.
func Object(m Map) Value {
	return Value{v: m}
}

// Kind returns the variant held by the value.
func (v Value) Kind() Kind {
	switch v.v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64:
		return KindNumber
	case string:
		return KindString
	case []Value:
		return KindArray
	case Map:
		return KindObject
	default:
		panic(fmt.Sprintf("property: invalid value representation %T", v.v))
	}
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.v == nil }

// IsBool reports whether the value is a boolean.
func (v Value) IsBool() bool { _, ok := v.v.(bool); return ok }

// IsNumber reports whether the value is a number.
func (v Value) IsNumber() bool { _, ok := v.v.(float64); return ok }

// IsString reports whether the value is a string.
func (v Value) IsString() bool { _, ok := v.v.(string); return ok }

// IsArray reports whether the value is an array.
func (v Value) IsArray() bool { _, ok := v.v.([]Value); return ok }

// IsObject reports whether the value is a nested bag.
func (v Value) IsObject() bool { _, ok := v.v.(Map); return ok }

// BoolValue returns the boolean payload. It panics for other kinds.
func (v Value) BoolValue() bool { return v.v.(bool) }

// NumberValue returns the numeric payload. It panics for other kinds.
func (v Value) NumberValue() float64 { return v.v.(float64) }

// StringValue returns the string payload. It panics for other kinds.
func (v Value) StringValue() string { return v.v.(string) }

// ArrayValue returns the array payload. It panics for other kinds.
func (v Value) ArrayValue() []Value { return v.v.([]Value) }

// ObjectValue returns the nested bag payload. It panics for other kinds.
func (v Value) ObjectValue() Map { return v.v.(Map) }

// Equal reports deep equality between two values. Numbers compare by
// IEEE equality, arrays element-wise in order, objects key-wise.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.BoolValue() == other.BoolValue()
	case KindNumber:
		return v.NumberValue() == other.NumberValue()
	case KindString:
		return v.StringValue() == other.StringValue()
	case KindArray:
		a, b := v.ArrayValue(), other.ArrayValue()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.ObjectValue().Equal(other.ObjectValue())
	default:
		return false
	}
}

// Copy returns a deep copy of the value.
func (v Value) Copy() Value {
	switch v.Kind() {
	case KindArray:
		src := v.ArrayValue()
		dst := make([]Value, len(src))
		for i := range src {
			dst[i] = src[i].Copy()
		}
		return Array(dst)
	case KindObject:
		return Object(v.ObjectValue().Copy())
	default:
		return v
	}
}

// String renders the value for logs and diagnostics.
func (v Value) String() string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<invalid property value: %v>", err)
	}
	return string(b)
}

// MarshalJSON maps the union onto the JSON data model.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

// UnmarshalJSON parses any JSON value into the union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded JSON-style value (nil, bool, float64,
// string, []any, map[string]any, plus the integer types providers
// commonly hand over) into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, el := range t {
			v, err := FromAny(el)
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = v
		}
		return Array(arr), nil
	case map[string]any:
		m, err := MapFromAny(t)
		if err != nil {
			return Null(), err
		}
		return Object(m), nil
	case Value:
		return t, nil
	case Map:
		return Object(t), nil
	default:
		return Null(), fmt.Errorf("unsupported property value type %T", raw)
	}
}

// ToAny converts a Value back to plain JSON-style Go values.
func (v Value) ToAny() any {
	switch v.Kind() {
	case KindArray:
		src := v.ArrayValue()
		out := make([]any, len(src))
		for i := range src {
			out[i] = src[i].ToAny()
		}
		return out
	case KindObject:
		return v.ObjectValue().ToAny()
	default:
		return v.v
	}
}

// Map is a property bag: an order-irrelevant mapping from property name
// to value.
type Map map[string]Value

// MapFromAny converts a map of JSON-style values into a bag.
func MapFromAny(raw map[string]any) (Map, error) {
	m := make(Map, len(raw))
	for k, el := range raw {
		v, err := FromAny(el)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		m[k] = v
	}
	return m, nil
}

// ToAny converts the bag back to a map of JSON-style values.
func (m Map) ToAny() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.ToAny()
	}
	return out
}

// Keys returns the property names in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasKey reports whether the bag contains the named property.
func (m Map) HasKey(key string) bool {
	_, ok := m[key]
	return ok
}

// Equal reports deep equality between two bags.
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the bag. Copying nil yields an empty,
// non-nil bag so callers can safely insert into the result.
func (m Map) Copy() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Copy()
	}
	return out
}
