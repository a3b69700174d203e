// Package decoder turns raw response payloads into typed samples using the
// device layout. Decoding is a pure function of its inputs.
package decoder

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/layout"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// ErrTruncatedPayload is returned when a payload is shorter than the fields
// its layout declares.
var ErrTruncatedPayload = errors.New("decoder: truncated payload")

// ErrUnknownDevice is layout.ErrUnknownDevice, re-exported for callers that
// only import this package.
var ErrUnknownDevice = layout.ErrUnknownDevice

// Lookup resolves a device layout. *layout.Registry satisfies it.
type Lookup interface {
	Lookup(id telemetry.DeviceID) (layout.Entry, bool)
}

// Decode decodes payload for device id. Bytes past the last declared field
// are ignored.
func Decode(reg Lookup, id telemetry.DeviceID, payload []byte, observedAt time.Time) (telemetry.Sample, error) {
	entry, ok := reg.Lookup(id)
	if !ok {
		return telemetry.Sample{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	if need := entry.TotalWidth(); len(payload) < need {
		return telemetry.Sample{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrTruncatedPayload, id, need, len(payload))
	}

	values := make([]telemetry.FieldValue, len(entry.Fields))
	for i, f := range entry.Fields {
		values[i] = Field(f, payload[f.Offset:f.Offset+f.Width])
	}

	return telemetry.Sample{
		DeviceID:  id,
		Timestamp: observedAt,
		Values:    values,
	}, nil
}

// Field decodes one field from b, which must be exactly f.Width bytes.
func Field(f layout.FieldSpec, b []byte) telemetry.FieldValue {
	raw := readUint(f.Order, b)
	v := telemetry.FieldValue{Name: f.Name, Kind: f.Kind}

	switch f.Kind {
	case telemetry.KindSigned:
		// Sign-extend from the field width.
		shift := uint(64 - 8*f.Width)
		v.Int = int64(raw<<shift) >> shift
	case telemetry.KindUnsigned:
		v.Uint = raw
	case telemetry.KindFloat:
		if f.Width == 4 {
			v.Float = float64(math.Float32frombits(uint32(raw)))
		} else {
			v.Float = math.Float64frombits(raw)
		}
	}
	return v
}

func readUint(order layout.ByteOrder, b []byte) uint64 {
	bo := order.Binary()
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(bo.Uint16(b))
	case 4:
		return uint64(bo.Uint32(b))
	default:
		return bo.Uint64(b)
	}
}

// Encode packs values into a payload for entry. It is the inverse of
// Decode and is used by the bus simulator and tests. Missing values encode
// as zero.
func Encode(entry layout.Entry, values map[string]telemetry.FieldValue) []byte {
	out := make([]byte, entry.PayloadLength)
	for _, f := range entry.Fields {
		v := values[f.Name]

		var raw uint64
		switch f.Kind {
		case telemetry.KindSigned:
			raw = uint64(v.Int)
		case telemetry.KindUnsigned:
			raw = v.Uint
		case telemetry.KindFloat:
			if f.Width == 4 {
				raw = uint64(math.Float32bits(float32(v.Float)))
			} else {
				raw = math.Float64bits(v.Float)
			}
		}
		writeUint(f.Order, out[f.Offset:f.Offset+f.Width], raw)
	}
	return out
}

func writeUint(order layout.ByteOrder, b []byte, v uint64) {
	bo := order.Binary()
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		bo.PutUint16(b, uint16(v))
	case 4:
		bo.PutUint32(b, uint32(v))
	default:
		bo.PutUint64(b, v)
	}
}
