package mqtt

import (
	"sync"
)

// inboxQueueSize bounds the messages waiting for one subscription's handler.
const inboxQueueSize = 256

type inboundMessage struct {
	topic   string
	payload []byte
}

// inbox runs one subscription's handler on its own goroutine, one message
// at a time in arrival order. Paho's router only enqueues, so a handler
// may publish and wait for the acknowledgement without stalling delivery.
type inbox struct {
	topic   string
	handler MessageHandler
	queue   chan inboundMessage
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	client  *Client
}

func (c *Client) newInbox(topic string, handler MessageHandler) *inbox {
	b := &inbox{
		topic:   topic,
		handler: handler,
		queue:   make(chan inboundMessage, inboxQueueSize),
		done:    make(chan struct{}),
		client:  c,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// enqueue hands a message to the inbox without blocking. A full inbox
// drops the message; channels are best-effort.
func (b *inbox) enqueue(topic string, payload []byte) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.queue <- inboundMessage{topic: topic, payload: payload}:
		return true
	default:
		if logger := b.client.getLogger(); logger != nil {
			logger.Warn("mqtt inbox full, dropping message", "subscription", b.topic, "topic", topic)
		}
		return false
	}
}

func (b *inbox) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case m := <-b.queue:
			b.deliver(m)
		}
	}
}

// deliver calls the handler, recovering panics so one bad message cannot
// stop the subscription.
func (b *inbox) deliver(m inboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			if logger := b.client.getLogger(); logger != nil {
				logger.Error("mqtt handler panic recovered", "topic", m.topic, "panic", r)
			}
		}
	}()

	if err := b.handler(m.topic, m.payload); err != nil {
		if logger := b.client.getLogger(); logger != nil {
			logger.Warn("mqtt handler returned error", "topic", m.topic, "error", err)
		}
	}
}

// stop ends the delivery goroutine. Queued messages are discarded.
func (b *inbox) stop() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}
