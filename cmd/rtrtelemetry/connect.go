package main

import (
	"fmt"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/mqtt"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
)

// connectMQTT dials the MQTT broker with the client ID of role and returns
// the transport view of the connection.
//
// Failing to connect here is a startup failure; later outages are handled
// by paho's reconnect loop.
func connectMQTT(cfg *config.Config, role string, log *logging.Logger) (*mqtt.Client, *transport.MQTTConn, transport.Endpoints, error) {
	ep := transport.NewEndpoints(cfg.Transport.TopicPrefix)

	mcfg := cfg.MQTT
	mcfg.Broker.ClientID = cfg.ClientID(role)

	client, err := mqtt.Connect(mcfg, ep.Topics())
	if err != nil {
		return nil, nil, ep, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", mcfg.Broker.Host, mcfg.Broker.Port),
		"client_id", mcfg.Broker.ClientID,
		"prefix", cfg.Transport.TopicPrefix,
	)
	return client, transport.NewMQTTConn(client, byte(cfg.MQTT.QoS)), ep, nil
}

// closeMQTT publishes the graceful offline status and disconnects.
func closeMQTT(client *mqtt.Client, log *logging.Logger) {
	log.Info("disconnecting from MQTT")
	if err := client.Close(); err != nil {
		log.Error("error closing MQTT", "error", err)
	}
}
