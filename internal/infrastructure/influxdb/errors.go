package influxdb

import "errors"

// Errors returned by the sample mirror client.
var (
	// ErrNotConnected is returned by HealthCheck once the client is closed
	// or was never connected. Writes on a disconnected client are dropped.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps a failed ping or unhealthy server at Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false. The
	// store treats it as "no mirror", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
