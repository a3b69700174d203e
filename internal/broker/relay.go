// Package broker implements the transport relay: a stateless forwarder that
// moves every message from a channel's producer endpoint to its canonical
// endpoint.
//
// Producers and consumers only ever meet the relay, never each other, so
// they can start and restart in any order. The relay keeps no history: a
// consumer attached after a message was relayed does not receive it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
)

// ErrNoCanonical is logged when a producer topic has no canonical mapping.
var ErrNoCanonical = errors.New("broker: topic has no canonical endpoint")

// Logger is the logging surface the relay uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Relay.
type Config struct {
	Conn      transport.Conn
	Endpoints transport.Endpoints

	// Channels to relay. Defaults to transport.Channels.
	Channels []transport.Channel

	Metrics *metrics.Registry
	Logger  Logger
}

// ChannelStats counts relay outcomes for one channel.
type ChannelStats struct {
	Relayed uint64
	Dropped uint64
}

type counters struct {
	relayed atomic.Uint64
	dropped atomic.Uint64
}

// Relay forwards producer-side messages to the canonical side.
type Relay struct {
	conn      transport.Conn
	endpoints transport.Endpoints
	channels  []transport.Channel
	metrics   *metrics.Registry
	logger    Logger

	stats map[transport.Channel]*counters

	startOnce sync.Once
	startErr  error
}

// New creates a relay. It does not subscribe until Start.
func New(cfg Config) (*Relay, error) {
	if cfg.Conn == nil {
		return nil, errors.New("broker: conn is required")
	}
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = transport.Channels
	}

	r := &Relay{
		conn:      cfg.Conn,
		endpoints: cfg.Endpoints,
		channels:  channels,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		stats:     make(map[transport.Channel]*counters, len(channels)),
	}
	for _, ch := range channels {
		r.stats[ch] = &counters{}
	}
	return r, nil
}

// Start subscribes to every channel's producer endpoint. Calling it again
// returns the first result.
func (r *Relay) Start() error {
	r.startOnce.Do(func() {
		for _, ch := range r.channels {
			pattern := r.endpoints.AllProducer(ch)
			if err := r.conn.Subscribe(pattern, r.handler(ch)); err != nil {
				r.startErr = fmt.Errorf("subscribing to %s: %w", pattern, err)
				return
			}
			r.logInfo("relay attached", "channel", string(ch), "pattern", pattern)
		}
	})
	return r.startErr
}

// Run starts the relay and blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	r.logInfo("relay stopping")
	return nil
}

func (r *Relay) handler(ch transport.Channel) transport.Handler {
	return func(topic string, payload []byte) error {
		r.relay(ch, topic, payload)
		return nil
	}
}

// relay forwards one message. Failures drop the message and are counted;
// they never stop the relay.
func (r *Relay) relay(ch transport.Channel, topic string, payload []byte) {
	c := r.stats[ch]

	canonical, ok := r.endpoints.ToCanonical(topic)
	if !ok {
		c.dropped.Add(1)
		r.metrics.RelayDropped(string(ch))
		r.logWarn("relay dropped message", "channel", string(ch), "topic", topic, "error", ErrNoCanonical)
		return
	}

	if err := r.conn.Publish(canonical, payload); err != nil {
		c.dropped.Add(1)
		r.metrics.RelayDropped(string(ch))
		r.logWarn("relay publish failed", "channel", string(ch), "topic", canonical, "error", err)
		return
	}

	c.relayed.Add(1)
	r.metrics.Relayed(string(ch))
	if r.logger != nil {
		r.logger.Debug("relayed", "channel", string(ch), "topic", canonical, "bytes", len(payload))
	}
}

// Stats returns per-channel counters.
func (r *Relay) Stats() map[transport.Channel]ChannelStats {
	out := make(map[transport.Channel]ChannelStats, len(r.stats))
	for ch, c := range r.stats {
		out[ch] = ChannelStats{Relayed: c.relayed.Load(), Dropped: c.dropped.Load()}
	}
	return out
}

func (r *Relay) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Relay) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
