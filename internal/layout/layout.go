package layout

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// DefaultPayloadLength is the classic CAN data length.
const DefaultPayloadLength = 8

// ByteOrder is the byte order of a field.
type ByteOrder string

const (
	OrderBig    ByteOrder = "big"
	OrderLittle ByteOrder = "little"
)

// Binary returns the encoding/binary order for o.
func (o ByteOrder) Binary() binary.ByteOrder {
	if o == OrderLittle {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// FieldSpec describes one field of a response payload.
type FieldSpec struct {
	Name   string
	Width  int
	Order  ByteOrder
	Kind   telemetry.Kind
	Offset int
}

// Entry is the layout of one device.
type Entry struct {
	DeviceID      telemetry.DeviceID
	FrequencyHz   float64
	PayloadLength int

	// BufferCapacity overrides the store's ring buffer capacity for this
	// device. Zero means the store default.
	BufferCapacity int

	Fields []FieldSpec
}

// TotalWidth is the number of payload bytes the fields cover.
func (e Entry) TotalWidth() int {
	total := 0
	for _, f := range e.Fields {
		total += f.Width
	}
	return total
}

// Period is the interval between requests at FrequencyHz.
func (e Entry) Period() time.Duration {
	return PeriodFor(e.FrequencyHz)
}

// Field returns the named field.
func (e Entry) Field(name string) (FieldSpec, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// PeriodFor converts a frequency to a request interval. hz must be positive.
func PeriodFor(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

// ValidFrequency reports whether hz is usable as a request frequency.
func ValidFrequency(hz float64) bool {
	return hz > 0 && !math.IsInf(hz, 0) && !math.IsNaN(hz) && PeriodFor(hz) > 0
}

// Registry is the immutable device lookup table.
type Registry struct {
	entries map[telemetry.DeviceID]Entry
	order   []telemetry.DeviceID
}

// New validates entries, computes field offsets and builds a Registry.
// Offsets set on the input are ignored. Every problem found is reported.
func New(entries []Entry) (*Registry, error) {
	r := &Registry{entries: make(map[telemetry.DeviceID]Entry, len(entries))}
	var errs []string

	for i, in := range entries {
		e, problems := normalise(in)
		if _, dup := r.entries[e.DeviceID]; dup {
			problems = append(problems, "duplicate device id")
		}
		if len(problems) > 0 {
			for _, p := range problems {
				errs = append(errs, fmt.Sprintf("device[%d] %s: %s", i, in.DeviceID, p))
			}
			continue
		}
		r.entries[e.DeviceID] = e
		r.order = append(r.order, e.DeviceID)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLayout, strings.Join(errs, "; "))
	}
	return r, nil
}

// normalise copies in, fills defaults, assigns offsets and returns any
// validation problems.
func normalise(in Entry) (Entry, []string) {
	var problems []string

	e := in
	e.Fields = make([]FieldSpec, len(in.Fields))
	if e.PayloadLength == 0 {
		e.PayloadLength = DefaultPayloadLength
	}

	if e.DeviceID > telemetry.MaxDeviceID {
		problems = append(problems, "id exceeds 29 bits")
	}
	if !ValidFrequency(e.FrequencyHz) {
		problems = append(problems, fmt.Sprintf("frequency %v must be a positive finite number", e.FrequencyHz))
	}
	if e.PayloadLength < 1 || e.PayloadLength > telemetry.MaxPayload {
		problems = append(problems, fmt.Sprintf("payload_length %d must be between 1 and %d", e.PayloadLength, telemetry.MaxPayload))
	}
	if e.BufferCapacity < 0 {
		problems = append(problems, "buffer_capacity must not be negative")
	}
	if len(in.Fields) == 0 {
		problems = append(problems, "at least one field is required")
	}

	seen := make(map[string]bool, len(in.Fields))
	offset := 0
	for j, f := range in.Fields {
		if f.Order == "" {
			f.Order = OrderBig
		}
		f.Offset = offset
		offset += f.Width
		e.Fields[j] = f

		switch {
		case f.Name == "":
			problems = append(problems, fmt.Sprintf("field[%d]: name is required", j))
		case seen[f.Name]:
			problems = append(problems, fmt.Sprintf("field %q: duplicate name", f.Name))
		}
		seen[f.Name] = true

		switch f.Width {
		case 1, 2, 4, 8:
		default:
			problems = append(problems, fmt.Sprintf("field %q: width %d must be 1, 2, 4 or 8", f.Name, f.Width))
		}
		if f.Order != OrderBig && f.Order != OrderLittle {
			problems = append(problems, fmt.Sprintf("field %q: order %q must be big or little", f.Name, f.Order))
		}
		if !f.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("field %q: kind %q must be signed, unsigned or float", f.Name, f.Kind))
		}
		if f.Kind == telemetry.KindFloat && f.Width != 4 && f.Width != 8 {
			problems = append(problems, fmt.Sprintf("field %q: float width must be 4 or 8", f.Name))
		}
	}

	if offset > e.PayloadLength {
		problems = append(problems, fmt.Sprintf("fields span %d bytes, payload_length is %d", offset, e.PayloadLength))
	}

	return e, problems
}

// Lookup returns the entry for id. The returned Fields slice is shared and
// must not be modified.
func (r *Registry) Lookup(id telemetry.DeviceID) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Devices returns device ids in declaration order.
func (r *Registry) Devices() []telemetry.DeviceID {
	out := make([]telemetry.DeviceID, len(r.order))
	copy(out, r.order)
	return out
}

// Entries returns every entry in declaration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.order)
}
