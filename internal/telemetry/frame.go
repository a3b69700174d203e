package telemetry

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MaxPayload is the largest payload a frame may carry (CAN FD).
const MaxPayload = 64

// Frame is one observed bus frame. Remote frames are RTR requests seen on
// the bus and carry no payload.
type Frame struct {
	DeviceID  DeviceID
	Timestamp time.Time
	Payload   []byte
	Remote    bool
}

// frameWire is the CBOR layout of a Frame.
type frameWire struct {
	DeviceID   uint32 `cbor:"1,keyasint"`
	ObservedAt int64  `cbor:"2,keyasint"`
	Payload    []byte `cbor:"3,keyasint"`
	Remote     bool   `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("telemetry: CBOR encoder initialization failed: " + err.Error())
	}

	// Frames are tiny; reject anything that claims to be large.
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  4,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}.DecMode()
	if err != nil {
		panic("telemetry: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeFrame encodes f for the DATA channel.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.DeviceID > MaxDeviceID {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeviceID, f.DeviceID)
	}
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrMalformedFrame, len(f.Payload))
	}
	return encMode.Marshal(frameWire{
		DeviceID:   uint32(f.DeviceID),
		ObservedAt: f.Timestamp.UnixNano(),
		Payload:    f.Payload,
		Remote:     f.Remote,
	})
}

// DecodeFrame decodes a DATA channel message.
func DecodeFrame(data []byte) (Frame, error) {
	var w frameWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if w.DeviceID > MaxDeviceID {
		return Frame{}, fmt.Errorf("%w: device id 0x%X", ErrMalformedFrame, w.DeviceID)
	}
	if len(w.Payload) > MaxPayload {
		return Frame{}, fmt.Errorf("%w: payload of %d bytes", ErrMalformedFrame, len(w.Payload))
	}
	return Frame{
		DeviceID:  DeviceID(w.DeviceID),
		Timestamp: time.Unix(0, w.ObservedAt).UTC(),
		Payload:   w.Payload,
		Remote:    w.Remote,
	}, nil
}
