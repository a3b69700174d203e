package transport

import (
	"errors"
	"strings"
	"sync"
)

// Hub is an in-process Conn. Publish delivers synchronously, on the
// caller's goroutine, to every subscription whose pattern matches at that
// moment. Handlers may publish again.
type Hub struct {
	mu   sync.RWMutex
	subs []hubSub

	// OnError, when set, receives handler errors.
	OnError func(topic string, err error)
}

type hubSub struct {
	pattern []string
	handler Handler
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Publish delivers payload to current matching subscribers. Each handler
// gets its own copy of payload.
func (h *Hub) Publish(topic string, payload []byte) error {
	if topic == "" {
		return errors.New("transport: empty topic")
	}
	levels := strings.Split(topic, "/")

	h.mu.RLock()
	var targets []Handler
	for _, s := range h.subs {
		if match(s.pattern, levels) {
			targets = append(targets, s.handler)
		}
	}
	onErr := h.OnError
	h.mu.RUnlock()

	for _, handler := range targets {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		if err := handler(topic, msg); err != nil && onErr != nil {
			onErr(topic, err)
		}
	}
	return nil
}

// Subscribe attaches handler to pattern.
func (h *Hub) Subscribe(pattern string, handler Handler) error {
	if pattern == "" {
		return errors.New("transport: empty pattern")
	}
	if handler == nil {
		return errors.New("transport: nil handler")
	}
	h.mu.Lock()
	h.subs = append(h.subs, hubSub{pattern: strings.Split(pattern, "/"), handler: handler})
	h.mu.Unlock()
	return nil
}

// SubscriberCount returns the number of subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// match applies MQTT wildcard rules: + matches one level, a trailing #
// matches the parent level and everything below it.
func match(pattern, topic []string) bool {
	for i, p := range pattern {
		if p == "#" {
			return i == len(pattern)-1 && len(topic) >= i
		}
		if i >= len(topic) {
			return false
		}
		if p != "+" && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}
