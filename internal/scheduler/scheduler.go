package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/bus"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/clock"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/layout"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
	"github.com/nerrad567/rtr-telemetry/internal/transport"
)

// State is the request state of one device.
type State string

const (
	StateIdle        State = "idle"
	StateRequestSent State = "request_sent"
)

// Logger is the logging surface the scheduler uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Scheduler.
type Config struct {
	Layouts   *layout.Registry
	Bus       bus.Collaborator
	Conn      transport.Conn
	Endpoints transport.Endpoints

	Clock   clock.Clock
	Metrics *metrics.Registry
	Logger  Logger
}

// EntryStatus is a copy of one schedule entry.
type EntryStatus struct {
	DeviceID     telemetry.DeviceID `json:"device_id"`
	FrequencyHz  float64            `json:"frequency_hz"`
	Period       time.Duration      `json:"period"`
	NextFire     time.Time          `json:"next_fire"`
	State        State              `json:"state"`
	LastRequest  time.Time          `json:"last_request,omitzero"`
	LastResponse time.Time          `json:"last_response,omitzero"`
	Requests     uint64             `json:"requests"`
	Responses    uint64             `json:"responses"`
}

// entry is owned by the Scheduler and guarded by its mutex.
type entry struct {
	id        telemetry.DeviceID
	frequency float64
	period    time.Duration
	nextFire  time.Time
	state     State
	lastReq   time.Time
	lastResp  time.Time
	requests  uint64
	responses uint64

	// gen invalidates callbacks from timers replaced by a frequency change.
	gen   uint64
	timer *clock.Timer
}

// Scheduler drives the per-device request schedules.
type Scheduler struct {
	bus       bus.Collaborator
	conn      transport.Conn
	endpoints transport.Endpoints
	clk       clock.Clock
	metrics   *metrics.Registry
	logger    Logger

	mu      sync.Mutex
	entries map[telemetry.DeviceID]*entry
	order   []telemetry.DeviceID
	started bool
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates a scheduler with one idle entry per layout device.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Layouts == nil {
		return nil, errors.New("scheduler: layouts are required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("scheduler: bus is required")
	}
	if cfg.Conn == nil {
		return nil, errors.New("scheduler: transport is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	s := &Scheduler{
		bus:       cfg.Bus,
		conn:      cfg.Conn,
		endpoints: cfg.Endpoints,
		clk:       clk,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		entries:   make(map[telemetry.DeviceID]*entry, cfg.Layouts.Len()),
	}
	for _, le := range cfg.Layouts.Entries() {
		s.entries[le.DeviceID] = &entry{
			id:        le.DeviceID,
			frequency: le.FrequencyHz,
			period:    le.Period(),
			state:     StateIdle,
		}
		s.order = append(s.order, le.DeviceID)
		s.metrics.SetFrequency(le.DeviceID.String(), le.FrequencyHz)
	}
	return s, nil
}

// Start subscribes to CONTROL, hooks the bus callback and arms every
// device's first fire one period from now.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.bus.SetOnFrame(s.handleFrame)

	pattern := s.endpoints.AllCanonical(transport.ChannelControl)
	if err := s.conn.Subscribe(pattern, s.handleControl); err != nil {
		return fmt.Errorf("subscribing to %s: %w", pattern, err)
	}

	s.mu.Lock()
	now := s.clk.Now()
	for _, id := range s.order {
		s.armLocked(s.entries[id], now)
	}
	s.mu.Unlock()

	s.logInfo("scheduler started", "devices", len(s.order))
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop cancels every pending fire and waits for in-flight requests.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.gen++
	}
	s.mu.Unlock()

	s.cancel()
	s.inflight.Wait()
	s.logInfo("scheduler stopped")
	return nil
}

// armLocked schedules e's next fire one period after now.
func (s *Scheduler) armLocked(e *entry, now time.Time) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.nextFire = now.Add(e.period)
	e.timer = s.clk.AfterFunc(e.period, func() { s.fire(e.id, gen) })
}

// fire sends one request for id and arms the next fire. Stale callbacks
// from replaced timers return without effect.
func (s *Scheduler) fire(id telemetry.DeviceID, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || s.stopped || e.gen != gen {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	e.state = StateRequestSent
	e.lastReq = now
	e.requests++
	s.armLocked(e, now)
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()

	if err := s.bus.SendRequest(ctx, id); err != nil {
		s.metrics.RequestFailed(id.String())
		if ctx.Err() == nil {
			s.logWarn("request failed", "device", id.String(), "error", err)
		}
		return
	}
	s.metrics.RequestSent(id.String())
}

// handleFrame publishes an observed data frame onto DATA. Remote frames are
// requests, ours or another node's, and are not published.
func (s *Scheduler) handleFrame(f telemetry.Frame) {
	if f.Remote {
		s.metrics.FrameDiscarded("remote")
		return
	}

	s.mu.Lock()
	if e, ok := s.entries[f.DeviceID]; ok {
		e.state = StateIdle
		e.lastResp = f.Timestamp
		e.responses++
	}
	s.mu.Unlock()

	payload, err := telemetry.EncodeFrame(f)
	if err != nil {
		s.metrics.FrameDiscarded("encode")
		s.logWarn("frame encode failed", "device", f.DeviceID.String(), "error", err)
		return
	}

	if err := s.conn.Publish(s.endpoints.Producer(transport.ChannelData, f.DeviceID), payload); err != nil {
		s.metrics.FrameDiscarded("publish")
		s.logWarn("frame publish failed", "device", f.DeviceID.String(), "error", err)
		return
	}
	s.metrics.FramePublished(f.DeviceID.String())
}

func (s *Scheduler) handleControl(_ string, payload []byte) error {
	msg, err := telemetry.DecodeControl(payload)
	if err != nil {
		s.metrics.ControlRejected("malformed")
		return err
	}
	if err := s.ApplyControl(msg); err != nil {
		switch {
		case errors.Is(err, ErrUnknownDevice):
			s.metrics.ControlRejected("unknown_device")
		case errors.Is(err, ErrInvalidFrequency):
			s.metrics.ControlRejected("invalid_frequency")
		}
		return err
	}
	return nil
}

// ApplyControl changes a device's frequency. Invalid requests leave the
// schedule untouched and are reported so the caller can log them. A
// request for the frequency already in effect keeps the pending fire, so
// repeated updates cannot push a device's next request back.
func (s *Scheduler) ApplyControl(msg telemetry.ControlMessage) error {
	id := msg.DeviceID
	hz := msg.FrequencyHz

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if !layout.ValidFrequency(hz) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v Hz for %s", ErrInvalidFrequency, hz, id)
	}

	if hz == e.frequency {
		s.mu.Unlock()
		s.metrics.ControlApplied(id.String(), hz)
		s.logDebug("frequency unchanged", "device", id.String(), "frequency_hz", hz, "msg_id", msg.MessageID)
		return nil
	}

	e.frequency = hz
	e.period = layout.PeriodFor(hz)
	if s.started && !s.stopped {
		s.armLocked(e, s.clk.Now())
	}
	s.mu.Unlock()

	s.metrics.ControlApplied(id.String(), hz)
	s.logInfo("frequency updated", "device", id.String(), "frequency_hz", hz, "msg_id", msg.MessageID)
	return nil
}

// Entry returns a copy of one schedule entry.
func (s *Scheduler) Entry(id telemetry.DeviceID) (EntryStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return EntryStatus{}, false
	}
	return e.status(), true
}

// Entries returns copies of every entry in layout order.
func (s *Scheduler) Entries() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].status())
	}
	return out
}

func (e *entry) status() EntryStatus {
	return EntryStatus{
		DeviceID:     e.id,
		FrequencyHz:  e.frequency,
		Period:       e.period,
		NextFire:     e.nextFire,
		State:        e.state,
		LastRequest:  e.lastReq,
		LastResponse: e.lastResp,
		Requests:     e.requests,
		Responses:    e.responses,
	}
}

func (s *Scheduler) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scheduler) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Scheduler) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
