package transport

import (
	"errors"
	"fmt"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/mqtt"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// Channel is a logical message channel.
type Channel string

const (
	// ChannelData carries observed frames from the scheduler to the store.
	ChannelData Channel = "data"

	// ChannelControl carries frequency updates towards the scheduler.
	ChannelControl Channel = "control"
)

// Channels lists every channel the broker relays.
var Channels = []Channel{ChannelData, ChannelControl}

// ErrBadTopic is returned when a topic does not carry a device id.
var ErrBadTopic = errors.New("transport: topic does not name a device")

// Handler receives one message. Returned errors are logged by the Conn.
type Handler func(topic string, payload []byte) error

// Conn publishes and subscribes on topics. Subscribe patterns follow MQTT
// wildcard rules.
type Conn interface {
	Publish(topic string, payload []byte) error
	Subscribe(pattern string, h Handler) error
}

// Endpoints builds topic names for channels and devices.
type Endpoints struct {
	topics mqtt.Topics
}

// NewEndpoints returns endpoints rooted at prefix.
func NewEndpoints(prefix string) Endpoints {
	return Endpoints{topics: mqtt.Topics{Prefix: prefix}}
}

// Topics returns the underlying topic builder.
func (e Endpoints) Topics() mqtt.Topics { return e.topics }

// Producer is the topic producers publish device messages to.
func (e Endpoints) Producer(ch Channel, dev telemetry.DeviceID) string {
	return e.topics.Producer(string(ch), dev.String())
}

// Canonical is the topic consumers receive device messages on.
func (e Endpoints) Canonical(ch Channel, dev telemetry.DeviceID) string {
	return e.topics.Canonical(string(ch), dev.String())
}

// AllProducer matches every producer topic on ch.
func (e Endpoints) AllProducer(ch Channel) string {
	return e.topics.AllProducer(string(ch))
}

// AllCanonical matches every canonical topic on ch.
func (e Endpoints) AllCanonical(ch Channel) string {
	return e.topics.AllCanonical(string(ch))
}

// ToCanonical maps a producer topic to its canonical topic.
func (e Endpoints) ToCanonical(topic string) (string, bool) {
	return e.topics.ToCanonical(topic)
}

// DeviceFromTopic parses the device id in the last topic level.
func DeviceFromTopic(topic string) (telemetry.DeviceID, error) {
	id, err := telemetry.ParseDeviceID(mqtt.Device(topic))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}
	return id, nil
}
