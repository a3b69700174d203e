package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root used when config leaves transport.topic_prefix empty.
const DefaultTopicPrefix = "rtrtelemetry"

// producerSegment separates producer endpoints from canonical ones.
const producerSegment = "in"

// Topics builds RTR Telemetry topic names under a common prefix.
//
// Every logical channel has two endpoints:
//
//	canonical: {prefix}/{channel}/{device}      consumers subscribe here
//	producer:  {prefix}/in/{channel}/{device}   producers publish here
//
// The broker process subscribes to the producer side and republishes on the
// canonical side, so producers and consumers never depend on each other's
// start order.
//
//	topics := mqtt.Topics{Prefix: "rtrtelemetry"}
//	topics.Producer("data", "0x100") // "rtrtelemetry/in/data/0x100"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Canonical returns the consumer-facing topic for one device on a channel.
//
// Example: rtrtelemetry/data/0x100
func (t Topics) Canonical(channel, device string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), channel, device)
}

// Producer returns the producer-facing topic for one device on a channel.
//
// Example: rtrtelemetry/in/control/0x100
func (t Topics) Producer(channel, device string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.prefix(), producerSegment, channel, device)
}

// AllCanonical matches every device on a channel's canonical side.
//
// Pattern: rtrtelemetry/data/#
func (t Topics) AllCanonical(channel string) string {
	return fmt.Sprintf("%s/%s/#", t.prefix(), channel)
}

// AllProducer matches every device on a channel's producer side.
//
// Pattern: rtrtelemetry/in/data/#
func (t Topics) AllProducer(channel string) string {
	return fmt.Sprintf("%s/%s/%s/#", t.prefix(), producerSegment, channel)
}

// Status returns the presence topic a client publishes online/offline to.
//
// Example: rtrtelemetry/status/rtrtelemetry-store
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix(), clientID)
}

// AllStatus matches every client presence topic.
//
// Pattern: rtrtelemetry/status/+
func (t Topics) AllStatus() string {
	return fmt.Sprintf("%s/status/+", t.prefix())
}

// ToCanonical maps a producer topic onto its canonical counterpart.
// It reports false when topic is not a producer topic under this prefix.
//
// Example: rtrtelemetry/in/data/0x100 -> rtrtelemetry/data/0x100
func (t Topics) ToCanonical(topic string) (string, bool) {
	head := t.prefix() + "/" + producerSegment + "/"
	rest, ok := strings.CutPrefix(topic, head)
	if !ok || rest == "" {
		return "", false
	}
	return t.prefix() + "/" + rest, true
}

// Device returns the last topic level, which carries the device id.
func Device(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
