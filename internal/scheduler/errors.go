package scheduler

import (
	"errors"

	"github.com/nerrad567/rtr-telemetry/internal/layout"
)

var (
	// ErrUnknownDevice is returned by ApplyControl for devices with no
	// schedule entry.
	ErrUnknownDevice = layout.ErrUnknownDevice

	// ErrInvalidFrequency is returned by ApplyControl for a frequency that
	// is not a positive finite number. The entry keeps its old rate.
	ErrInvalidFrequency = errors.New("scheduler: invalid frequency")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("scheduler: not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)
