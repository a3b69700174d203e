package telemetry

import "errors"

var (
	// ErrInvalidDeviceID is returned for ids that are not valid 29-bit CAN identifiers.
	ErrInvalidDeviceID = errors.New("telemetry: invalid device id")

	// ErrMalformedFrame is returned when a DATA message cannot be decoded.
	ErrMalformedFrame = errors.New("telemetry: malformed frame")

	// ErrMalformedControl is returned when a CONTROL message is not valid JSON
	// or lacks a device id.
	ErrMalformedControl = errors.New("telemetry: malformed control message")

	// ErrUnsupportedControl is returned for control messages of an unknown type.
	ErrUnsupportedControl = errors.New("telemetry: unsupported control message type")
)
