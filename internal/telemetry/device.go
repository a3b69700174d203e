package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MaxDeviceID is the largest 29-bit extended CAN identifier.
const MaxDeviceID = 0x1FFFFFFF

// DeviceID is a bus device identifier (the CAN arbitration id).
type DeviceID uint32

// String formats the id the way operators write it: "0x100".
func (d DeviceID) String() string {
	return fmt.Sprintf("0x%X", uint32(d))
}

// Extended reports whether the id needs the 29-bit frame format.
func (d DeviceID) Extended() bool {
	return d > 0x7FF
}

// ParseDeviceID accepts "0x100", "0X1ab" or decimal "256".
func ParseDeviceID(s string) (DeviceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}

	var (
		v   uint64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		v, err = strconv.ParseUint(rest, 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDeviceID, s)
	}
	if v > MaxDeviceID {
		return 0, fmt.Errorf("%w: %q exceeds 29 bits", ErrInvalidDeviceID, s)
	}
	return DeviceID(v), nil
}

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DeviceID) UnmarshalText(text []byte) error {
	id, err := ParseDeviceID(string(text))
	if err != nil {
		return err
	}
	*d = id
	return nil
}

// UnmarshalJSON accepts the id as a string ("0x100", "256") or as a plain
// JSON integer (256). Both forms are in use by operator tooling.
func (d *DeviceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDeviceID, err)
		}
		return d.UnmarshalText([]byte(s))
	}
	return d.UnmarshalText(data)
}
