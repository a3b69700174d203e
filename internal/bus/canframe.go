package bus

import (
	"encoding/binary"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// Linux struct can_frame layout.
const (
	canFrameSize = 16
	canMaxDLC    = 8

	canEFFFlag = 0x80000000 // extended frame format
	canRTRFlag = 0x40000000 // remote transmission request
	canERRFlag = 0x20000000 // error frame

	canSFFMask = 0x000007FF
	canEFFMask = 0x1FFFFFFF
)

// marshalCANFrame packs a classic CAN frame. Ids above the 11-bit range use
// the extended format. For remote frames dlc is the requested length and no
// data is sent.
func marshalCANFrame(id telemetry.DeviceID, remote bool, dlc int, data []byte) [canFrameSize]byte {
	var b [canFrameSize]byte

	canID := uint32(id)
	if id.Extended() {
		canID |= canEFFFlag
	}
	if remote {
		canID |= canRTRFlag
	}
	binary.NativeEndian.PutUint32(b[0:4], canID)

	if !remote {
		dlc = copy(b[8:], data)
	}
	b[4] = byte(min(max(dlc, 0), canMaxDLC))
	return b
}

// unmarshalCANFrame parses a struct can_frame. Error frames and short reads
// report false.
func unmarshalCANFrame(b []byte, at time.Time) (telemetry.Frame, bool) {
	if len(b) < canFrameSize {
		return telemetry.Frame{}, false
	}

	canID := binary.NativeEndian.Uint32(b[0:4])
	if canID&canERRFlag != 0 {
		return telemetry.Frame{}, false
	}

	var id uint32
	if canID&canEFFFlag != 0 {
		id = canID & canEFFMask
	} else {
		id = canID & canSFFMask
	}

	f := telemetry.Frame{
		DeviceID:  telemetry.DeviceID(id),
		Timestamp: at,
		Remote:    canID&canRTRFlag != 0,
	}
	if !f.Remote {
		dlc := min(int(b[4]), canMaxDLC)
		f.Payload = make([]byte, dlc)
		copy(f.Payload, b[8:8+dlc])
	}
	return f, true
}
