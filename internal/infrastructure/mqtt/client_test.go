package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/config"
)

// These tests need no broker. Broker-backed tests live in
// integration_test.go behind the integration build tag.

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestPublish_ArgumentValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("a/b", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := c.Publish("a/b", big, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversize) error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_ArgumentValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/#", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestStatusJSON(t *testing.T) {
	var got statusPayload
	if err := json.Unmarshal(statusJSON("offline", "rtr-store", "graceful_shutdown"), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "offline" || got.ClientID != "rtr-store" || got.Reason != "graceful_shutdown" {
		t.Errorf("statusJSON = %+v", got)
	}
	if got.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.lan", Port: 8883, TLS: true, ClientID: "rtr-scheduler"},
		Auth:   config.MQTTAuthConfig{Username: "rtr", Password: "secret"},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.lan:8883" {
		t.Errorf("Servers = %v, want ssl://broker.lan:8883", opts.Servers)
	}
	if opts.ClientID != "rtr-scheduler" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.Username != "rtr" {
		t.Errorf("Username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
	if !opts.Order {
		t.Error("Order = false, want ordered delivery")
	}
}

// ============================================================================
// Inbox
// ============================================================================

// fakeMessage is a minimal pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestInbox_OrderedAndNonBlocking(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 8)
	box := c.newInbox("rt/in/data/#", func(_ string, payload []byte) error {
		if string(payload) == "1" {
			<-release
		}
		mu.Lock()
		got = append(got, string(payload))
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	defer box.stop()

	route := wrapHandler(box)
	sent := make(chan struct{})
	go func() {
		for _, p := range []string{"1", "2", "3", "4"} {
			route(nil, fakeMessage{topic: "rt/in/data/0x100", payload: []byte(p)})
		}
		close(sent)
	}()

	// The router must return while the first handler call is still blocked.
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("router blocked on a slow handler")
	}
	close(release)

	for range 4 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"1", "2", "3", "4"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", got, want)
		}
	}
}

func TestInbox_RecoversPanicsAndErrors(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	calls := make(chan string, 3)
	box := c.newInbox("t/#", func(_ string, payload []byte) error {
		calls <- string(payload)
		switch string(payload) {
		case "panic":
			panic("bad message")
		case "error":
			return errors.New("rejected")
		}
		return nil
	})
	defer box.stop()

	for _, p := range []string{"panic", "error", "ok"} {
		if !box.enqueue("t/x", []byte(p)) {
			t.Fatalf("enqueue(%q) = false", p)
		}
	}
	for _, want := range []string{"panic", "error", "ok"} {
		select {
		case got := <-calls:
			if got != want {
				t.Errorf("handler got %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("handler not called for %q", want)
		}
	}
}

func TestInbox_StoppedDropsMessages(t *testing.T) {
	c := &Client{}
	box := c.newInbox("t/#", func(string, []byte) error { return nil })
	box.stop()
	box.stop()

	if box.enqueue("t/x", []byte("late")) {
		t.Error("enqueue after stop = true, want false")
	}
}
