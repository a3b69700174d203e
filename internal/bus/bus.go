package bus

import (
	"context"
	"errors"

	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus: closed")

	// ErrUnsupported is returned when the bus source is not available on
	// this platform.
	ErrUnsupported = errors.New("bus: not supported on this platform")

	// ErrOpenFailed is returned when the bus interface cannot be opened.
	ErrOpenFailed = errors.New("bus: open failed")

	// ErrSendFailed is returned when a request cannot be written.
	ErrSendFailed = errors.New("bus: send failed")
)

// Collaborator is the scheduler's view of the bus.
//
// SendRequest is fire-and-forget: it returns once the request is on the
// wire, and any response arrives later through the frame callback.
type Collaborator interface {
	SendRequest(ctx context.Context, id telemetry.DeviceID) error
	SetOnFrame(fn func(telemetry.Frame))
	Close() error
}

// Logger is the logging surface used by bus implementations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
