package bus

import (
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/clock"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// SocketCANConfig configures OpenSocketCAN.
type SocketCANConfig struct {
	Interface string

	// Bitrate is logged only. The link is configured with ip-link.
	Bitrate int

	// RequestLengths gives the DLC to put in each device's remote frame.
	// Devices not listed request a full 8 bytes.
	RequestLengths map[telemetry.DeviceID]int

	Clock   clock.Clock
	Metrics *metrics.Registry
	Logger  Logger
}

func (c SocketCANConfig) requestLength(id telemetry.DeviceID) int {
	if n, ok := c.RequestLengths[id]; ok {
		return n
	}
	return canMaxDLC
}

const (
	readRetryMin = 10 * time.Millisecond
	readRetryMax = time.Second
)

// readBackoff paces retries after failed socket reads. The delay doubles
// per consecutive failure up to readRetryMax and resets on a good read.
type readBackoff struct {
	failures int
}

// fail records a failed read and returns how long to wait before the next.
func (b *readBackoff) fail() time.Duration {
	d := readRetryMin << min(b.failures, 16)
	b.failures++
	return min(d, readRetryMax)
}

// ok records a good read. It reports whether reads had been failing.
func (b *readBackoff) ok() bool {
	recovered := b.failures > 0
	b.failures = 0
	return recovered
}
