package telemetry

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind is the numeric interpretation of a field.
type Kind string

const (
	KindSigned   Kind = "signed"
	KindUnsigned Kind = "unsigned"
	KindFloat    Kind = "float"
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSigned, KindUnsigned, KindFloat:
		return true
	}
	return false
}

// FieldValue is one decoded field. Exactly one of Int, Uint or Float is
// meaningful, selected by Kind.
type FieldValue struct {
	Name  string
	Kind  Kind
	Int   int64
	Uint  uint64
	Float float64
}

// Value returns the typed value as int64, uint64 or float64.
func (v FieldValue) Value() any {
	switch v.Kind {
	case KindSigned:
		return v.Int
	case KindUnsigned:
		return v.Uint
	default:
		return v.Float
	}
}

// Float64 converts the value for plotting. Large 64-bit integers lose
// precision.
func (v FieldValue) Float64() float64 {
	switch v.Kind {
	case KindSigned:
		return float64(v.Int)
	case KindUnsigned:
		return float64(v.Uint)
	default:
		return v.Float
	}
}

// String formats the value exactly, without exponent for integers.
func (v FieldValue) String() string {
	switch v.Kind {
	case KindSigned:
		return strconv.FormatInt(v.Int, 10)
	case KindUnsigned:
		return strconv.FormatUint(v.Uint, 10)
	default:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
}

// MarshalJSON encodes {"name":..,"kind":..,"value":..}.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Kind  Kind   `json:"kind"`
		Value any    `json:"value"`
	}{v.Name, v.Kind, v.Value()})
}

// Sample is one decoded frame. Values keep layout declaration order.
type Sample struct {
	DeviceID  DeviceID     `json:"device_id"`
	Timestamp time.Time    `json:"timestamp"`
	Values    []FieldValue `json:"values"`
}

// Get returns the named value.
func (s Sample) Get(name string) (FieldValue, bool) {
	for _, v := range s.Values {
		if v.Name == name {
			return v, true
		}
	}
	return FieldValue{}, false
}

// Fields returns the values keyed by field name.
func (s Sample) Fields() map[string]any {
	out := make(map[string]any, len(s.Values))
	for _, v := range s.Values {
		out[v.Name] = v.Value()
	}
	return out
}
