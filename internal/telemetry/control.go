package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ControlTypeFrequencyUpdate is the only control message type.
const ControlTypeFrequencyUpdate = "rtr_frequency_update"

// ControlMessage asks the scheduler to change one device's request
// frequency. Applying the same message twice has the same effect as
// applying it once.
type ControlMessage struct {
	Type        string    `json:"type"`
	DeviceID    DeviceID  `json:"id"`
	FrequencyHz float64   `json:"frequency"`
	MessageID   string    `json:"msg_id,omitempty"`
	IssuedAt    time.Time `json:"issued_at,omitzero"`
}

// NewFrequencyUpdate builds a control message with a fresh id.
func NewFrequencyUpdate(device DeviceID, hz float64, now time.Time) ControlMessage {
	return ControlMessage{
		Type:        ControlTypeFrequencyUpdate,
		DeviceID:    device,
		FrequencyHz: hz,
		MessageID:   uuid.NewString(),
		IssuedAt:    now.UTC(),
	}
}

// EncodeControl encodes msg for the CONTROL channel. The frequency is not
// validated here; the scheduler is the single authority on that.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = ControlTypeFrequencyUpdate
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedControl, err)
	}
	return b, nil
}

// DecodeControl decodes a CONTROL channel message.
func DecodeControl(data []byte) (ControlMessage, error) {
	var raw struct {
		Type        string    `json:"type"`
		DeviceID    *DeviceID `json:"id"`
		FrequencyHz float64   `json:"frequency"`
		MessageID   string    `json:"msg_id"`
		IssuedAt    time.Time `json:"issued_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ControlMessage{}, fmt.Errorf("%w: %w", ErrMalformedControl, err)
	}
	if raw.Type != ControlTypeFrequencyUpdate {
		return ControlMessage{}, fmt.Errorf("%w: %q", ErrUnsupportedControl, raw.Type)
	}
	if raw.DeviceID == nil {
		return ControlMessage{}, fmt.Errorf("%w: missing id", ErrMalformedControl)
	}
	return ControlMessage{
		Type:        raw.Type,
		DeviceID:    *raw.DeviceID,
		FrequencyHz: raw.FrequencyHz,
		MessageID:   raw.MessageID,
		IssuedAt:    raw.IssuedAt,
	}, nil
}
