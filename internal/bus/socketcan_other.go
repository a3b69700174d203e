//go:build !linux

package bus

import (
	"context"

	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// SocketCAN is only available on Linux.
type SocketCAN struct{}

// OpenSocketCAN always fails with ErrUnsupported off Linux.
func OpenSocketCAN(SocketCANConfig) (*SocketCAN, error) {
	return nil, ErrUnsupported
}

func (*SocketCAN) SendRequest(context.Context, telemetry.DeviceID) error { return ErrUnsupported }
func (*SocketCAN) SetOnFrame(func(telemetry.Frame))                     {}
func (*SocketCAN) Close() error                                          { return nil }
