package store

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/decoder"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/database"
	"github.com/nerrad567/rtr-telemetry/internal/layout"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
	_ "github.com/nerrad567/rtr-telemetry/migrations"
)

// ============================================================================
// Test doubles
// ============================================================================

// memLog records appended samples.
type memLog struct {
	mu      sync.Mutex
	samples []telemetry.Sample
	err     error
}

func (m *memLog) Append(_ context.Context, s telemetry.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *memLog) Close() error { return nil }

func (m *memLog) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

type mockMirror struct {
	mu     sync.Mutex
	points []map[string]any
}

func (m *mockMirror) WriteSample(_ string, fields map[string]any, _ time.Time) {
	m.mu.Lock()
	m.points = append(m.points, fields)
	m.mu.Unlock()
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testLayouts(t *testing.T) *layout.Registry {
	t.Helper()
	reg, err := layout.New([]layout.Entry{
		{
			DeviceID:    0x100,
			FrequencyHz: 20,
			Fields: []layout.FieldSpec{
				{Name: "adc_ch1", Width: 4, Order: layout.OrderBig, Kind: telemetry.KindSigned},
				{Name: "adc_ch2", Width: 4, Order: layout.OrderBig, Kind: telemetry.KindSigned},
			},
		},
		{
			DeviceID:       0x101,
			FrequencyHz:    5,
			BufferCapacity: 3,
			Fields:         []layout.FieldSpec{{Name: "n", Width: 2, Kind: telemetry.KindUnsigned}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

type fixture struct {
	store  *Store
	hub    *transport.Hub
	ep     transport.Endpoints
	log    *memLog
	mirror *mockMirror
}

func newFixture(t *testing.T, queueSize int) *fixture {
	t.Helper()
	f := &fixture{
		hub:    transport.NewHub(),
		ep:     transport.NewEndpoints("rt"),
		log:    &memLog{},
		mirror: &mockMirror{},
	}
	var err error
	f.store, err = New(Config{
		Layouts:   testLayouts(t),
		Conn:      f.hub,
		Endpoints: f.ep,
		Log:       f.log,
		Mirror:    f.mirror,
		QueueSize: queueSize,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

var scenarioPayload = []byte{0x00, 0x00, 0x03, 0xE8, 0xFF, 0xFF, 0xFE, 0x0C}

// ============================================================================
// Ingest
// ============================================================================

func TestHandleFrame_BuffersAndLogs(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.store.HandleFrame(context.Background(), telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: scenarioPayload})
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	snap, err := f.store.Snapshot(0x100)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	ch1, _ := snap.Field("adc_ch1")
	ch2, _ := snap.Field("adc_ch2")
	if len(ch1.Values) != 1 || ch1.Values[0] != int64(1000) {
		t.Errorf("adc_ch1 = %v, want [1000]", ch1.Values)
	}
	if len(ch2.Values) != 1 || ch2.Values[0] != int64(-500) {
		t.Errorf("adc_ch2 = %v, want [-500]", ch2.Values)
	}
	if !ch1.Timestamps[0].Equal(t0) {
		t.Errorf("timestamp = %v, want %v", ch1.Timestamps[0], t0)
	}

	if f.log.count() != 1 {
		t.Errorf("log appends = %d, want 1", f.log.count())
	}
	if len(f.mirror.points) != 1 || f.mirror.points[0]["adc_ch2"] != int64(-500) {
		t.Errorf("mirror points = %v", f.mirror.points)
	}
}

func TestHandleFrame_TruncatedLeavesNoTrace(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.store.HandleFrame(context.Background(), telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: []byte{0x00, 0x00, 0x03}})
	if !errors.Is(err, decoder.ErrTruncatedPayload) {
		t.Fatalf("HandleFrame() error = %v, want ErrTruncatedPayload", err)
	}

	snap, _ := f.store.Snapshot(0x100)
	for _, fs := range snap.Fields {
		if len(fs.Values) != 0 {
			t.Errorf("%s buffered %v after truncated frame", fs.Name, fs.Values)
		}
	}
	if f.log.count() != 0 {
		t.Errorf("log appends = %d, want 0", f.log.count())
	}
}

func TestHandleFrame_UnknownDevice(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.store.HandleFrame(context.Background(), telemetry.Frame{DeviceID: 0x7FF, Payload: scenarioPayload})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("HandleFrame() error = %v, want ErrUnknownDevice", err)
	}
	if f.log.count() != 0 {
		t.Error("unknown device frame was logged")
	}
}

func TestHandleFrame_DurableFailureStillBuffers(t *testing.T) {
	f := newFixture(t, 0)
	f.log.err = errors.New("disk full")

	_, err := f.store.HandleFrame(context.Background(), telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: scenarioPayload})
	if !errors.Is(err, ErrDurableWrite) {
		t.Fatalf("HandleFrame() error = %v, want ErrDurableWrite", err)
	}
	snap, _ := f.store.Snapshot(0x100)
	if ch1, _ := snap.Field("adc_ch1"); len(ch1.Values) != 1 {
		t.Errorf("sample not buffered after log failure")
	}
}

func TestHandleFrame_PerDeviceCapacity(t *testing.T) {
	f := newFixture(t, 0)
	for i := range 5 {
		payload := []byte{0, byte(i)}
		if _, err := f.store.HandleFrame(context.Background(), telemetry.Frame{DeviceID: 0x101, Timestamp: t0.Add(time.Duration(i) * time.Second), Payload: payload}); err != nil {
			t.Fatal(err)
		}
	}

	snap, _ := f.store.Snapshot(0x101)
	n, _ := snap.Field("n")
	want := []any{uint64(2), uint64(3), uint64(4)}
	if len(n.Values) != 3 {
		t.Fatalf("values = %v, want last 3", n.Values)
	}
	for i := range want {
		if n.Values[i] != want[i] {
			t.Errorf("values = %v, want %v", n.Values, want)
		}
	}

	last, _ := f.store.SnapshotLast(0x101, 1)
	if v, _ := last.Field("n"); len(v.Values) != 1 || v.Values[0] != uint64(4) {
		t.Errorf("SnapshotLast(1) = %v", v.Values)
	}
}

// ============================================================================
// Enable / disable
// ============================================================================

func TestSetEnabled(t *testing.T) {
	f := newFixture(t, 0)
	frame := telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: scenarioPayload}

	_, _ = f.store.HandleFrame(context.Background(), frame)
	if err := f.store.SetEnabled(0x100, false); err != nil {
		t.Fatal(err)
	}
	_, _ = f.store.HandleFrame(context.Background(), frame)

	snap, _ := f.store.Snapshot(0x100)
	if ch1, _ := snap.Field("adc_ch1"); len(ch1.Values) != 0 {
		t.Errorf("disabled device buffered %v", ch1.Values)
	}
	if f.log.count() != 2 {
		t.Errorf("log appends = %d, want 2 (disabled devices still logged)", f.log.count())
	}

	devices := f.store.Devices()
	if devices[0].Enabled || devices[0].Received != 2 {
		t.Errorf("device info = %+v", devices[0])
	}

	if err := f.store.SetEnabled(0x7FF, true); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("SetEnabled(unknown) error = %v", err)
	}
}

// ============================================================================
// Transport
// ============================================================================

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStore_ConsumesDataChannel(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.store.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var (
		mu   sync.Mutex
		seen []telemetry.Sample
	)
	f.store.OnSample(func(s telemetry.Sample) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	good, _ := telemetry.EncodeFrame(telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: scenarioPayload})
	short, _ := telemetry.EncodeFrame(telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: []byte{1}})
	topic := f.ep.Canonical(transport.ChannelData, 0x100)

	_ = f.hub.Publish(topic, []byte("not cbor"))
	_ = f.hub.Publish(topic, short)
	_ = f.hub.Publish(topic, good)

	waitFor(t, func() bool { return f.log.count() == 1 })

	if err := f.store.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Values[0].Int != 1000 {
		t.Errorf("listener saw %+v", seen)
	}
}

func TestStore_FullQueueDrops(t *testing.T) {
	f := newFixture(t, 1)

	var dropErr error
	f.hub.OnError = func(_ string, err error) { dropErr = err }

	_ = f.hub.Subscribe(f.ep.AllCanonical(transport.ChannelData), f.store.enqueue)
	payload, _ := telemetry.EncodeFrame(telemetry.Frame{DeviceID: 0x100, Timestamp: t0, Payload: scenarioPayload})
	topic := f.ep.Canonical(transport.ChannelData, 0x100)
	_ = f.hub.Publish(topic, payload)
	_ = f.hub.Publish(topic, payload)

	if dropErr == nil {
		t.Error("second frame should be dropped with a one-slot queue and no consumer")
	}
}

func TestRelayControl(t *testing.T) {
	f := newFixture(t, 0)

	var got []byte
	var topic string
	_ = f.hub.Subscribe(f.ep.AllProducer(transport.ChannelControl), func(tp string, p []byte) error {
		topic, got = tp, p
		return nil
	})

	// Frequency is not validated on this side.
	msg := telemetry.NewFrequencyUpdate(0x100, -3, t0)
	if err := f.store.RelayControl(msg); err != nil {
		t.Fatalf("RelayControl() error = %v", err)
	}

	if topic != "rt/in/control/0x100" {
		t.Errorf("topic = %q", topic)
	}
	decoded, err := telemetry.DecodeControl(got)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.FrequencyHz != -3 || decoded.MessageID != msg.MessageID {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestStore_Lifecycle(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.store.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before Start error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.store.Run(ctx) }()

	waitFor(t, func() bool { return f.hub.SubscriberCount() == 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}
}

// ============================================================================
// Sample logs
// ============================================================================

func TestCSVLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "can_data_log.csv")
	l, err := OpenCSVLog(path, false)
	if err != nil {
		t.Fatalf("OpenCSVLog() error = %v", err)
	}

	reg := testLayouts(t)
	s, _ := decoder.Decode(reg, 0x100, scenarioPayload, t0)
	if err := l.Append(context.Background(), s); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening must not repeat the header.
	l, err = OpenCSVLog(path, false)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(context.Background(), s)
	_ = l.Close()

	rows := readCSV(t, path)
	want := [][]string{
		{"timestamp", "rtr_id", "variable", "value"},
		{"2026-03-01T09:00:00Z", "0x100", "adc_ch1", "1000"},
		{"2026-03-01T09:00:00Z", "0x100", "adc_ch2", "-500"},
		{"2026-03-01T09:00:00Z", "0x100", "adc_ch1", "1000"},
		{"2026-03-01T09:00:00Z", "0x100", "adc_ch2", "-500"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v", rows)
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
				break
			}
		}
	}

	if err := l.Append(context.Background(), s); !errors.Is(err, ErrDurableWrite) {
		t.Errorf("Append() after Close error = %v, want ErrDurableWrite", err)
	}
}

func TestCSVLog_Truncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(path, []byte("old,data\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	l, err := OpenCSVLog(path, true)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	rows := readCSV(t, path)
	if len(rows) != 1 || rows[0][0] != "timestamp" {
		t.Errorf("rows after truncate = %v", rows)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestSQLiteLog(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	l := NewSQLiteLog(db)
	reg := testLayouts(t)
	for i := range 3 {
		s, _ := decoder.Decode(reg, 0x100, scenarioPayload, t0.Add(time.Duration(i)*time.Millisecond))
		if err := l.Append(context.Background(), s); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	recs, err := l.Recent(context.Background(), 0x100, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Recent() = %d records, want 2", len(recs))
	}
	if !recs[0].ObservedAt.Equal(t0.Add(2*time.Millisecond)) || recs[0].Field != "adc_ch2" || recs[0].Value != "-500" {
		t.Errorf("newest record = %+v", recs[0])
	}
	if recs[0].Kind != telemetry.KindSigned || recs[0].DeviceID != 0x100 {
		t.Errorf("record kind/device = %+v", recs[0])
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() with empty config should fail")
	}
}
