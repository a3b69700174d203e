// Package mqtt provides the MQTT connection used by every RTR Telemetry process.
//
// The site MQTT broker (Mosquitto or similar) carries both logical channels:
//
//	scheduler --in/data-->  [relay] --data-->  store
//	store     --in/control--> [relay] --control--> scheduler
//
// The relay is the rtrtelemetry broker process; see package broker.
//
// This package manages:
//   - Connection with auto-reconnect and exponential backoff
//   - Presence on {prefix}/status/{client_id} with a Last Will crash notice
//   - Subscriptions restored after reconnect
//   - Topic naming for canonical and producer endpoints (Topics)
//
// # Delivery
//
// Sessions are clean and telemetry is QoS 0, not retained. A consumer that
// is offline misses what was published meanwhile; nothing is buffered.
//
// Paho delivers in order. Each subscription owns a bounded inbox drained
// by one goroutine, so per-topic order reaches the handler intact and a
// handler that publishes never blocks paho's router.
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: cfg.Transport.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllCanonical("data"), 0, handler)
package mqtt
