package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/clock"
	"github.com/nerrad567/rtr-telemetry/internal/layout"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
)

// ============================================================================
// Test doubles
// ============================================================================

// mockBus records requests and lets tests inject observed frames.
type mockBus struct {
	mu       sync.Mutex
	requests map[telemetry.DeviceID]int
	onFrame  func(telemetry.Frame)
	err      error
}

func newMockBus() *mockBus {
	return &mockBus{requests: make(map[telemetry.DeviceID]int)}
}

func (b *mockBus) SendRequest(_ context.Context, id telemetry.DeviceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.requests[id]++
	return nil
}

func (b *mockBus) SetOnFrame(fn func(telemetry.Frame)) {
	b.mu.Lock()
	b.onFrame = fn
	b.mu.Unlock()
}

func (b *mockBus) Close() error { return nil }

func (b *mockBus) count(id telemetry.DeviceID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[id]
}

func (b *mockBus) emit(f telemetry.Frame) {
	b.mu.Lock()
	fn := b.onFrame
	b.mu.Unlock()
	fn(f)
}

type harness struct {
	sched *Scheduler
	bus   *mockBus
	hub   *transport.Hub
	ep    transport.Endpoints
	clk   *clock.FakeClock
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := layout.New([]layout.Entry{
		{
			DeviceID:    0x100,
			FrequencyHz: 20,
			Fields: []layout.FieldSpec{
				{Name: "adc_ch1", Width: 4, Kind: telemetry.KindSigned},
				{Name: "adc_ch2", Width: 4, Kind: telemetry.KindSigned},
			},
		},
		{
			DeviceID:    0x101,
			FrequencyHz: 5,
			Fields:      []layout.FieldSpec{{Name: "x", Width: 2, Kind: telemetry.KindUnsigned}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		bus: newMockBus(),
		hub: transport.NewHub(),
		ep:  transport.NewEndpoints("rt"),
		clk: clock.Fake(t0),
	}
	h.sched, err = New(Config{
		Layouts:   reg,
		Bus:       h.bus,
		Conn:      h.hub,
		Endpoints: h.ep,
		Clock:     h.clk,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.sched.Stop() })
}

// step advances the fake clock n times by d.
func (h *harness) step(n int, d time.Duration) {
	for range n {
		h.clk.Advance(d)
	}
}

// ============================================================================
// Firing
// ============================================================================

func TestScheduler_FiresEachDeviceAtItsFrequency(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.step(20, 50*time.Millisecond) // one second

	if got := h.bus.count(0x100); got != 20 {
		t.Errorf("0x100 requests = %d, want 20", got)
	}
	if got := h.bus.count(0x101); got != 5 {
		t.Errorf("0x101 requests = %d, want 5", got)
	}
}

func TestScheduler_NothingFiresBeforeFirstPeriod(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.clk.Advance(49 * time.Millisecond)
	if got := h.bus.count(0x100); got != 0 {
		t.Errorf("requests before first period = %d, want 0", got)
	}

	e, _ := h.sched.Entry(0x100)
	if !e.NextFire.Equal(t0.Add(50*time.Millisecond)) || e.State != StateIdle {
		t.Errorf("entry = %+v", e)
	}
}

func TestScheduler_StateMachine(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.clk.Advance(50 * time.Millisecond)
	e, _ := h.sched.Entry(0x100)
	if e.State != StateRequestSent || e.Requests != 1 {
		t.Fatalf("after fire: %+v", e)
	}
	if !e.NextFire.Equal(t0.Add(100 * time.Millisecond)) {
		t.Errorf("NextFire = %v, want now+period", e.NextFire)
	}

	h.bus.emit(telemetry.Frame{DeviceID: 0x100, Timestamp: h.clk.Now(), Payload: make([]byte, 8)})
	e, _ = h.sched.Entry(0x100)
	if e.State != StateIdle || e.Responses != 1 || !e.LastResponse.Equal(h.clk.Now()) {
		t.Errorf("after response: %+v", e)
	}
}

func TestScheduler_RequestErrorsDoNotStopSchedule(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.bus.mu.Lock()
	h.bus.err = errors.New("bus off")
	h.bus.mu.Unlock()
	h.step(2, 50*time.Millisecond)

	h.bus.mu.Lock()
	h.bus.err = nil
	h.bus.mu.Unlock()
	h.step(2, 50*time.Millisecond)

	if got := h.bus.count(0x100); got != 2 {
		t.Errorf("requests after recovery = %d, want 2", got)
	}
}

func TestScheduler_StopCancelsTimers(t *testing.T) {
	h := newHarness(t)
	if err := h.sched.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before Start error = %v", err)
	}
	h.start(t)
	if err := h.sched.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v", err)
	}

	if err := h.sched.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := h.clk.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
	h.step(10, 50*time.Millisecond)
	if got := h.bus.count(0x100); got != 0 {
		t.Errorf("requests after Stop = %d", got)
	}
}

// ============================================================================
// Control
// ============================================================================

func TestApplyControl_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	msg := telemetry.NewFrequencyUpdate(0x100, 10, t0)
	for range 2 {
		if err := h.sched.ApplyControl(msg); err != nil {
			t.Fatalf("ApplyControl() error = %v", err)
		}
	}

	e, _ := h.sched.Entry(0x100)
	if e.FrequencyHz != 10 || e.Period != 100*time.Millisecond {
		t.Errorf("entry = %+v, want 10 Hz / 100ms", e)
	}

	h.step(10, 100*time.Millisecond)
	if got := h.bus.count(0x100); got != 10 {
		t.Errorf("requests at 10 Hz over 1s = %d, want 10", got)
	}
	if n := h.clk.PendingCount(); n != 2 {
		t.Errorf("PendingCount() = %d, want one timer per device", n)
	}
}

func TestApplyControl_RepeatedSameFrequencyKeepsRate(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	// 0x101 runs at 5 Hz; resend 5 Hz faster than its 200ms period.
	msg := telemetry.NewFrequencyUpdate(0x101, 5, t0)
	for range 20 {
		before, _ := h.sched.Entry(0x101)
		if err := h.sched.ApplyControl(msg); err != nil {
			t.Fatalf("ApplyControl() error = %v", err)
		}
		after, _ := h.sched.Entry(0x101)
		if !after.NextFire.Equal(before.NextFire) {
			t.Fatalf("NextFire moved from %v to %v on unchanged frequency", before.NextFire, after.NextFire)
		}
		h.clk.Advance(150 * time.Millisecond)
	}

	if got := h.bus.count(0x101); got != 15 {
		t.Errorf("requests over 3s = %d, want 15 at 5 Hz", got)
	}
}

func TestScheduler_SingleAdvanceCoversManyPeriods(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want100 int
		want101 int
	}{
		{"one second", time.Second, 20, 5},
		{"just short of a period", 199 * time.Millisecond, 3, 0},
		{"five seconds", 5 * time.Second, 100, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.start(t)

			h.clk.Advance(tt.advance)

			if got := h.bus.count(0x100); got != tt.want100 {
				t.Errorf("0x100 requests = %d, want %d", got, tt.want100)
			}
			if got := h.bus.count(0x101); got != tt.want101 {
				t.Errorf("0x101 requests = %d, want %d", got, tt.want101)
			}
			e, _ := h.sched.Entry(0x100)
			if want := t0.Add(time.Duration(tt.want100+1) * 50 * time.Millisecond); !e.NextFire.Equal(want) {
				t.Errorf("0x100 NextFire = %v, want %v", e.NextFire, want)
			}
			if n := h.clk.PendingCount(); n != 2 {
				t.Errorf("PendingCount() = %d, want 2", n)
			}
		})
	}
}

func TestApplyControl_InvalidFrequencyKeepsOldRate(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	for _, hz := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		err := h.sched.ApplyControl(telemetry.ControlMessage{
			Type: telemetry.ControlTypeFrequencyUpdate, DeviceID: 0x100, FrequencyHz: hz,
		})
		if !errors.Is(err, ErrInvalidFrequency) {
			t.Errorf("ApplyControl(%v) error = %v, want ErrInvalidFrequency", hz, err)
		}
	}

	e, _ := h.sched.Entry(0x100)
	if e.FrequencyHz != 20 {
		t.Errorf("FrequencyHz = %v, want 20", e.FrequencyHz)
	}
	h.step(20, 50*time.Millisecond)
	if got := h.bus.count(0x100); got != 20 {
		t.Errorf("requests = %d, want 20 at the old rate", got)
	}
}

func TestApplyControl_UnknownDevice(t *testing.T) {
	h := newHarness(t)
	err := h.sched.ApplyControl(telemetry.NewFrequencyUpdate(0x7FF, 5, t0))
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("ApplyControl() error = %v, want ErrUnknownDevice", err)
	}
}

func TestApplyControl_ReschedulesImmediately(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	// 0x101 would next fire at 200ms; switch to 50 Hz at 30ms.
	h.clk.Advance(30 * time.Millisecond)
	_ = h.sched.ApplyControl(telemetry.NewFrequencyUpdate(0x101, 50, t0))

	h.clk.Advance(20 * time.Millisecond)
	if got := h.bus.count(0x101); got != 1 {
		t.Errorf("0x101 requests = %d, want 1 one new period after change", got)
	}
}

func TestScheduler_ControlFromChannel(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	payload, err := telemetry.EncodeControl(telemetry.NewFrequencyUpdate(0x101, 2, t0))
	if err != nil {
		t.Fatal(err)
	}
	_ = h.hub.Publish(h.ep.Canonical(transport.ChannelControl, 0x101), payload)

	e, _ := h.sched.Entry(0x101)
	if e.FrequencyHz != 2 {
		t.Errorf("FrequencyHz = %v, want 2", e.FrequencyHz)
	}

	var handlerErr error
	h.hub.OnError = func(_ string, err error) { handlerErr = err }
	_ = h.hub.Publish(h.ep.Canonical(transport.ChannelControl, 0x101), []byte("{"))
	if !errors.Is(handlerErr, telemetry.ErrMalformedControl) {
		t.Errorf("malformed control error = %v", handlerErr)
	}
}

// ============================================================================
// Frame publishing
// ============================================================================

func TestScheduler_PublishesDataFrames(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	var (
		mu     sync.Mutex
		frames []telemetry.Frame
		topics []string
	)
	_ = h.hub.Subscribe(h.ep.AllProducer(transport.ChannelData), func(topic string, p []byte) error {
		f, err := telemetry.DecodeFrame(p)
		if err != nil {
			return err
		}
		mu.Lock()
		frames = append(frames, f)
		topics = append(topics, topic)
		mu.Unlock()
		return nil
	})

	data := []byte{0x00, 0x00, 0x03, 0xE8, 0xFF, 0xFF, 0xFE, 0x0C}
	h.bus.emit(telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: data})
	h.bus.emit(telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Remote: true})
	h.bus.emit(telemetry.Frame{DeviceID: 0x555, Timestamp: t0, Payload: []byte{1}})

	mu.Lock()
	defer mu.Unlock()
	if len(frames) != 2 {
		t.Fatalf("published %d frames, want 2 (remote frame skipped)", len(frames))
	}
	if topics[0] != "rt/in/data/0x100" || string(frames[0].Payload) != string(data) {
		t.Errorf("first frame = %s %+v", topics[0], frames[0])
	}
	if frames[1].DeviceID != 0x555 {
		t.Errorf("unknown device frame not published: %+v", frames[1])
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() with empty config should fail")
	}
}
