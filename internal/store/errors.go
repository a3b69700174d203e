package store

import (
	"errors"

	"github.com/nerrad567/rtr-telemetry/internal/layout"
)

var (
	// ErrDurableWrite is returned when the sample log rejects a record.
	// The sample is still buffered in memory.
	ErrDurableWrite = errors.New("store: durable write failed")

	// ErrUnknownDevice is returned for devices not in the layout.
	ErrUnknownDevice = layout.ErrUnknownDevice

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("store: not started")
)
