package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/decoder"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/layout"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
)

const (
	// DefaultBufferCapacity holds five minutes at 20 Hz.
	DefaultBufferCapacity = 6000

	// DefaultQueueSize is the inbound frame queue length.
	DefaultQueueSize = 1024
)

// Logger is the logging surface the store uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Store.
type Config struct {
	Layouts   *layout.Registry
	Conn      transport.Conn
	Endpoints transport.Endpoints

	// Log receives every accepted sample. Optional.
	Log SampleLog

	// Mirror receives every accepted sample. Optional.
	Mirror Mirror

	// BufferCapacity applies to devices whose layout sets none.
	BufferCapacity int
	QueueSize      int

	Metrics *metrics.Registry
	Logger  Logger
}

// point is one buffered value.
type point struct {
	at    time.Time
	value telemetry.FieldValue
}

type deviceBuffers struct {
	entry   layout.Entry
	enabled bool
	fields  []*RingBuffer[point]
	last    time.Time
	total   uint64
}

// FieldSeries is an ordered copy of one field's buffer.
type FieldSeries struct {
	Name       string         `json:"name"`
	Kind       telemetry.Kind `json:"kind"`
	Timestamps []time.Time    `json:"timestamps"`
	Values     []any          `json:"values"`
}

// DeviceSnapshot holds copies of every field buffer of one device.
type DeviceSnapshot struct {
	DeviceID telemetry.DeviceID `json:"device_id"`
	Fields   []FieldSeries      `json:"fields"`
}

// Field returns the named series.
func (d DeviceSnapshot) Field(name string) (FieldSeries, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSeries{}, false
}

// DeviceInfo summarises one device for listings.
type DeviceInfo struct {
	DeviceID    telemetry.DeviceID `json:"device_id"`
	FrequencyHz float64            `json:"frequency_hz"`
	Fields      []string           `json:"fields"`
	Enabled     bool               `json:"enabled"`
	Buffered    int                `json:"buffered"`
	Capacity    int                `json:"capacity"`
	Received    uint64             `json:"received"`
	LastSample  time.Time          `json:"last_sample,omitzero"`
}

// Store buffers and logs decoded samples.
type Store struct {
	layouts   *layout.Registry
	conn      transport.Conn
	endpoints transport.Endpoints
	log       SampleLog
	mirror    Mirror
	metrics   *metrics.Registry
	logger    Logger

	queue chan []byte

	mu      sync.RWMutex
	devices map[telemetry.DeviceID]*deviceBuffers

	listenersMu sync.RWMutex
	listeners   []func(telemetry.Sample)

	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a store with empty buffers for every layout device.
func New(cfg Config) (*Store, error) {
	if cfg.Layouts == nil {
		return nil, errors.New("store: layouts are required")
	}
	if cfg.Conn == nil {
		return nil, errors.New("store: transport is required")
	}
	capacity := cfg.BufferCapacity
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	s := &Store{
		layouts:   cfg.Layouts,
		conn:      cfg.Conn,
		endpoints: cfg.Endpoints,
		log:       cfg.Log,
		mirror:    cfg.Mirror,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		queue:     make(chan []byte, queueSize),
		devices:   make(map[telemetry.DeviceID]*deviceBuffers, cfg.Layouts.Len()),
	}

	for _, e := range cfg.Layouts.Entries() {
		c := capacity
		if e.BufferCapacity > 0 {
			c = e.BufferCapacity
		}
		d := &deviceBuffers{entry: e, enabled: true, fields: make([]*RingBuffer[point], len(e.Fields))}
		for i := range e.Fields {
			d.fields[i] = NewRingBuffer[point](c)
		}
		s.devices[e.DeviceID] = d
	}
	return s, nil
}

// Start subscribes to DATA and starts the consumer.
func (s *Store) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started {
		return errors.New("store: already started")
	}

	pattern := s.endpoints.AllCanonical(transport.ChannelData)
	if err := s.conn.Subscribe(pattern, s.enqueue); err != nil {
		return fmt.Errorf("subscribing to %s: %w", pattern, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.started = true
	go s.consume(ctx)

	s.logInfo("store started", "devices", len(s.devices), "pattern", pattern)
	return nil
}

// Run starts the store and blocks until ctx is cancelled and queued frames
// are drained.
func (s *Store) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop stops the consumer after a best-effort drain of the queue.
func (s *Store) Stop() error {
	s.lifeMu.Lock()
	if !s.started {
		s.lifeMu.Unlock()
		return ErrNotStarted
	}
	cancel, done := s.cancel, s.done
	s.lifeMu.Unlock()

	cancel()
	<-done
	return nil
}

// enqueue hands a DATA message to the consumer without blocking.
func (s *Store) enqueue(_ string, payload []byte) error {
	select {
	case s.queue <- payload:
		return nil
	default:
		s.metrics.QueueDropped()
		return errors.New("store: queue full, frame dropped")
	}
}

func (s *Store) consume(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case payload := <-s.queue:
			s.process(ctx, payload)
		}
	}
}

func (s *Store) drain() {
	ctx := context.Background()
	for {
		select {
		case payload := <-s.queue:
			s.process(ctx, payload)
		default:
			return
		}
	}
}

// process decodes one DATA message. Errors are logged here.
func (s *Store) process(ctx context.Context, payload []byte) {
	f, err := telemetry.DecodeFrame(payload)
	if err != nil {
		s.metrics.DecodeFailed("malformed_frame")
		s.logWarn("dropping malformed frame", "error", err)
		return
	}
	if _, err := s.HandleFrame(ctx, f); err != nil && !errors.Is(err, ErrDurableWrite) {
		s.logWarn("dropping frame", "device", f.DeviceID.String(), "error", err)
	}
}

// HandleFrame decodes f and, on success, buffers and logs the sample.
//
// Decode failures return ErrUnknownDevice or decoder.ErrTruncatedPayload
// and leave buffers and log untouched. A sample log failure returns
// ErrDurableWrite after the sample was buffered.
func (s *Store) HandleFrame(ctx context.Context, f telemetry.Frame) (telemetry.Sample, error) {
	if f.Remote {
		return telemetry.Sample{}, nil
	}

	sample, err := decoder.Decode(s.layouts, f.DeviceID, f.Payload, f.Timestamp)
	if err != nil {
		switch {
		case errors.Is(err, decoder.ErrUnknownDevice):
			s.metrics.DecodeFailed("unknown_device")
		case errors.Is(err, decoder.ErrTruncatedPayload):
			s.metrics.DecodeFailed("truncated")
		default:
			s.metrics.DecodeFailed("other")
		}
		return telemetry.Sample{}, err
	}

	s.buffer(sample)
	s.metrics.SampleStored(sample.DeviceID.String())

	if s.mirror != nil {
		s.mirror.WriteSample(sample.DeviceID.String(), sample.Fields(), sample.Timestamp)
	}
	s.notify(sample)

	if s.log != nil {
		if err := s.log.Append(ctx, sample); err != nil {
			s.metrics.DurableWriteFailed()
			s.logError("sample log append failed", "device", sample.DeviceID.String(), "error", err)
			if !errors.Is(err, ErrDurableWrite) {
				err = fmt.Errorf("%w: %w", ErrDurableWrite, err)
			}
			return sample, err
		}
	}
	return sample, nil
}

func (s *Store) buffer(sample telemetry.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[sample.DeviceID]
	if !ok {
		return
	}
	d.total++
	d.last = sample.Timestamp
	if !d.enabled {
		return
	}
	for i, v := range sample.Values {
		d.fields[i].Push(point{at: sample.Timestamp, value: v})
	}
}

// Snapshot returns copies of every field buffer of id, oldest first.
func (s *Store) Snapshot(id telemetry.DeviceID) (DeviceSnapshot, error) {
	return s.snapshot(id, -1)
}

// SnapshotLast is Snapshot limited to the newest n values per field.
func (s *Store) SnapshotLast(id telemetry.DeviceID, n int) (DeviceSnapshot, error) {
	return s.snapshot(id, n)
}

func (s *Store) snapshot(id telemetry.DeviceID, n int) (DeviceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return DeviceSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	snap := DeviceSnapshot{DeviceID: id, Fields: make([]FieldSeries, len(d.fields))}
	for i, rb := range d.fields {
		var pts []point
		if n < 0 {
			pts = rb.Snapshot()
		} else {
			pts = rb.Last(n)
		}
		fs := FieldSeries{
			Name:       d.entry.Fields[i].Name,
			Kind:       d.entry.Fields[i].Kind,
			Timestamps: make([]time.Time, len(pts)),
			Values:     make([]any, len(pts)),
		}
		for j, p := range pts {
			fs.Timestamps[j] = p.at
			fs.Values[j] = p.value.Value()
		}
		snap.Fields[i] = fs
	}
	return snap, nil
}

// Devices lists every layout device in declaration order.
func (s *Store) Devices() []DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(s.devices))
	for _, id := range s.layouts.Devices() {
		d := s.devices[id]
		info := DeviceInfo{
			DeviceID:    id,
			FrequencyHz: d.entry.FrequencyHz,
			Enabled:     d.enabled,
			Received:    d.total,
			LastSample:  d.last,
		}
		for i, f := range d.entry.Fields {
			info.Fields = append(info.Fields, f.Name)
			info.Buffered = max(info.Buffered, d.fields[i].Len())
			info.Capacity = d.fields[i].Cap()
		}
		out = append(out, info)
	}
	return out
}

// SetEnabled turns buffering for id on or off. Disabled devices are still
// written to the sample log. Disabling clears the device's buffers.
func (s *Store) SetEnabled(id telemetry.DeviceID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if d.enabled && !enabled {
		for _, rb := range d.fields {
			rb.Reset()
		}
	}
	d.enabled = enabled
	return nil
}

// RelayControl publishes msg on CONTROL's producer endpoint. The frequency
// is not checked here; the scheduler decides.
func (s *Store) RelayControl(msg telemetry.ControlMessage) error {
	payload, err := telemetry.EncodeControl(msg)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.endpoints.Producer(transport.ChannelControl, msg.DeviceID), payload); err != nil {
		return fmt.Errorf("relaying control for %s: %w", msg.DeviceID, err)
	}
	s.metrics.ControlRelayed()
	s.logInfo("control relayed", "device", msg.DeviceID.String(), "frequency_hz", msg.FrequencyHz, "msg_id", msg.MessageID)
	return nil
}

// OnSample registers fn to receive every accepted sample. fn runs on the
// consumer goroutine and must not block.
func (s *Store) OnSample(fn func(telemetry.Sample)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Store) notify(sample telemetry.Sample) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, fn := range s.listeners {
		fn(sample)
	}
}

// Layouts returns the registry the store decodes with.
func (s *Store) Layouts() *layout.Registry {
	return s.layouts
}

func (s *Store) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Store) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Store) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
