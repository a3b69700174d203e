package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single message. CAN payloads are at most 8 bytes
// so this only guards against misuse.
const maxPayloadSize = 64 << 10 // 64KB

// Publish sends payload to topic.
//
// Telemetry and control traffic is published with QoS 0 and retained=false:
// a late subscriber must never receive history it was not attached for.
// Presence messages are the only retained traffic.
//
// Returns:
//   - ErrInvalidTopic, ErrInvalidQoS: on bad arguments
//   - ErrNotConnected: while the client is offline (nothing is queued)
//   - ErrPublishFailed: on timeout or broker refusal
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
