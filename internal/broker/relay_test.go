package broker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
)

type collector struct {
	mu     sync.Mutex
	topics []string
	bodies []string
}

func (c *collector) handle(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.bodies = append(c.bodies, string(payload))
	return nil
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func newTestRelay(t *testing.T, conn transport.Conn, reg *metrics.Registry) (*Relay, transport.Endpoints) {
	t.Helper()
	ep := transport.NewEndpoints("rt")
	r, err := New(Config{Conn: conn, Endpoints: ep, Metrics: reg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return r, ep
}

// ============================================================================
// Forwarding
// ============================================================================

func TestRelay_ForwardsVerbatim(t *testing.T) {
	hub := transport.NewHub()
	_, ep := newTestRelay(t, hub, nil)

	got := &collector{}
	_ = hub.Subscribe(ep.AllCanonical(transport.ChannelData), got.handle)

	payload := []byte{0xA1, 0x01, 0x19, 0x01, 0x00}
	_ = hub.Publish(ep.Producer(transport.ChannelData, 0x100), payload)

	if len(got.topics) != 1 || got.topics[0] != "rt/data/0x100" {
		t.Fatalf("canonical topics = %v", got.topics)
	}
	if got.bodies[0] != string(payload) {
		t.Errorf("payload changed: % X", got.bodies[0])
	}
}

func TestRelay_PreservesProducerOrder(t *testing.T) {
	hub := transport.NewHub()
	_, ep := newTestRelay(t, hub, nil)

	got := &collector{}
	_ = hub.Subscribe(ep.AllCanonical(transport.ChannelData), got.handle)

	var want []string
	for i := range 50 {
		p := strconv.Itoa(i)
		want = append(want, p)
		_ = hub.Publish(ep.Producer(transport.ChannelData, 0x100), []byte(p))
	}

	if g := strings.Join(got.got(), ","); g != strings.Join(want, ",") {
		t.Errorf("canonical order = %s", g)
	}
}

func TestRelay_ChannelsAreIndependent(t *testing.T) {
	hub := transport.NewHub()
	_, ep := newTestRelay(t, hub, nil)

	data := &collector{}
	control := &collector{}
	_ = hub.Subscribe(ep.AllCanonical(transport.ChannelData), data.handle)
	_ = hub.Subscribe(ep.AllCanonical(transport.ChannelControl), control.handle)

	_ = hub.Publish(ep.Producer(transport.ChannelControl, 0x100), []byte("c"))
	_ = hub.Publish(ep.Producer(transport.ChannelData, 0x100), []byte("d"))

	if g := data.got(); len(g) != 1 || g[0] != "d" {
		t.Errorf("data got %v", g)
	}
	if g := control.got(); len(g) != 1 || g[0] != "c" {
		t.Errorf("control got %v", g)
	}
}

// A consumer that attaches after N frames were relayed sees only the frames
// relayed after it attached.
func TestRelay_LateConsumerSeesOnlyLaterFrames(t *testing.T) {
	hub := transport.NewHub()
	_, ep := newTestRelay(t, hub, nil)
	producer := ep.Producer(transport.ChannelData, 0x100)

	for _, p := range []string{"1", "2", "3"} {
		_ = hub.Publish(producer, []byte(p))
	}

	late := &collector{}
	_ = hub.Subscribe(ep.AllCanonical(transport.ChannelData), late.handle)

	for _, p := range []string{"4", "5"} {
		_ = hub.Publish(producer, []byte(p))
	}

	if g := strings.Join(late.got(), ","); g != "4,5" {
		t.Errorf("late consumer got %q, want \"4,5\"", g)
	}
}

func TestRelay_NothingBufferedBeforeStart(t *testing.T) {
	hub := transport.NewHub()
	ep := transport.NewEndpoints("rt")

	got := &collector{}
	_ = hub.Subscribe(ep.AllCanonical(transport.ChannelData), got.handle)
	_ = hub.Publish(ep.Producer(transport.ChannelData, 0x100), []byte("early"))

	r, _ := New(Config{Conn: hub, Endpoints: ep})
	_ = r.Start()
	_ = hub.Publish(ep.Producer(transport.ChannelData, 0x100), []byte("after"))

	if g := got.got(); len(g) != 1 || g[0] != "after" {
		t.Errorf("got %v, want only \"after\"", g)
	}
}

// ============================================================================
// Failures
// ============================================================================

// failingConn subscribes through a hub but fails every publish to the
// canonical side.
type failingConn struct {
	*transport.Hub
	fail bool
}

func (f *failingConn) Publish(topic string, payload []byte) error {
	if f.fail && !strings.Contains(topic, "/in/") {
		return errors.New("broker unavailable")
	}
	return f.Hub.Publish(topic, payload)
}

func TestRelay_PublishFailureDropsAndContinues(t *testing.T) {
	conn := &failingConn{Hub: transport.NewHub(), fail: true}
	reg := metrics.New()
	r, ep := newTestRelay(t, conn, reg)

	got := &collector{}
	_ = conn.Subscribe(ep.AllCanonical(transport.ChannelData), got.handle)

	_ = conn.Publish(ep.Producer(transport.ChannelData, 0x100), []byte("lost"))
	conn.fail = false
	_ = conn.Publish(ep.Producer(transport.ChannelData, 0x100), []byte("ok"))

	stats := r.Stats()[transport.ChannelData]
	if stats.Dropped != 1 || stats.Relayed != 1 {
		t.Errorf("stats = %+v, want 1 dropped 1 relayed", stats)
	}
	if g := got.got(); len(g) != 1 || g[0] != "ok" {
		t.Errorf("got %v, want [ok]", g)
	}

	n := testutil.CollectAndCount(reg.Prometheus(), "rtrtelemetry_broker_dropped_total")
	if n != 1 {
		t.Errorf("relay_dropped series = %d, want 1", n)
	}
}

type errSubscribeConn struct{ transport.Hub }

func (e *errSubscribeConn) Subscribe(string, transport.Handler) error {
	return errors.New("refused")
}

func TestRelay_StartFailure(t *testing.T) {
	r, err := New(Config{Conn: &errSubscribeConn{}, Endpoints: transport.NewEndpoints("rt")})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err == nil {
		t.Error("Start() should fail when subscribe fails")
	}
	if err := r.Run(context.Background()); err == nil {
		t.Error("Run() should return the start error")
	}
}

func TestNew_RequiresConn(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without conn should fail")
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	r, _ := New(Config{Conn: transport.NewHub(), Endpoints: transport.NewEndpoints("rt")})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
