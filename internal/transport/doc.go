// Package transport names the two logical channels and the endpoints on
// each, and abstracts the publish/subscribe connection behind Conn.
//
// Two Conn implementations exist: MQTTConn, backed by the site MQTT broker,
// and Hub, an in-process fan-out used by tests and single-process runs.
// Both give the same contract: a message reaches the subscribers attached
// when it is delivered, and nobody else. Nothing is buffered for absent
// subscribers.
package transport
