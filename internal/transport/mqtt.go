package transport

import (
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/mqtt"
)

// MQTTConn adapts an MQTT client to Conn. Every message is published with
// retained=false so a late subscriber never sees history.
type MQTTConn struct {
	client *mqtt.Client
	qos    byte
}

// NewMQTTConn wraps client. qos applies to publishes and subscriptions.
func NewMQTTConn(client *mqtt.Client, qos byte) *MQTTConn {
	return &MQTTConn{client: client, qos: qos}
}

// Publish sends payload to topic.
func (c *MQTTConn) Publish(topic string, payload []byte) error {
	return c.client.Publish(topic, payload, c.qos, false)
}

// Subscribe attaches h to pattern. The subscription survives reconnects.
func (c *MQTTConn) Subscribe(pattern string, h Handler) error {
	return c.client.Subscribe(pattern, c.qos, mqtt.MessageHandler(h))
}
