package layout

import "errors"

var (
	// ErrUnknownDevice is returned when a device id has no layout entry.
	ErrUnknownDevice = errors.New("layout: unknown device")

	// ErrInvalidLayout is returned when the layout document fails validation.
	ErrInvalidLayout = errors.New("layout: invalid layout")
)
