package mqtt

import "errors"

// Errors returned by Client. Callers match them with errors.Is; the
// wrapping error carries the paho detail.
var (
	// ErrNotConnected means the client is offline. Nothing is queued.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps a failed or timed-out initial connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic or pattern.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
