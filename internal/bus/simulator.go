package bus

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/decoder"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/clock"
	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/layout"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// simulatedMax bounds generated values, like a 12-bit ADC.
const simulatedMax = 4095

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// Layouts resolves the payload shape of each device. Requests for
	// devices it does not know get no response.
	Layouts decoder.Lookup

	ResponseDelay time.Duration

	// DropRate is the share of requests, in [0, 1], left unanswered.
	DropRate float64

	// Seed makes the value stream reproducible. Zero picks a random seed.
	Seed int64

	Clock   clock.Clock
	Metrics *metrics.Registry
	Logger  Logger
}

// Simulator is an in-process stand-in for a bus full of devices.
type Simulator struct {
	cfg      SimulatorConfig
	clk      clock.Clock
	dispatch *dispatcher

	mu  sync.Mutex
	rng *rand.Rand

	timersMu sync.Mutex
	timers   map[*clock.Timer]struct{}
}

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Layouts == nil {
		return nil, errors.New("bus: simulator needs layouts")
	}
	if cfg.DropRate < 0 || cfg.DropRate > 1 {
		return nil, errors.New("bus: drop rate must be between 0 and 1")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Simulator{
		cfg:      cfg,
		clk:      clk,
		dispatch: newDispatcher(cfg.Metrics, cfg.Logger),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		timers:   make(map[*clock.Timer]struct{}),
	}, nil
}

// SendRequest schedules a response for id after the configured delay.
func (s *Simulator) SendRequest(ctx context.Context, id telemetry.DeviceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.dispatch.closed() {
		return ErrClosed
	}

	entry, ok := s.cfg.Layouts.Lookup(id)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.cfg.DropRate > 0 && s.rng.Float64() < s.cfg.DropRate {
		s.mu.Unlock()
		return nil
	}
	payload := decoder.Encode(entry, s.randomValues(entry))
	s.mu.Unlock()

	var t *clock.Timer
	s.timersMu.Lock()
	t = s.clk.AfterFunc(s.cfg.ResponseDelay, func() {
		s.timersMu.Lock()
		delete(s.timers, t)
		s.timersMu.Unlock()

		s.dispatch.dispatch(telemetry.Frame{
			DeviceID:  id,
			Timestamp: s.clk.Now(),
			Payload:   payload,
		})
	})
	s.timers[t] = struct{}{}
	s.timersMu.Unlock()

	return nil
}

// randomValues must be called with s.mu held.
func (s *Simulator) randomValues(entry layout.Entry) map[string]telemetry.FieldValue {
	values := make(map[string]telemetry.FieldValue, len(entry.Fields))
	for _, f := range entry.Fields {
		limit := uint64(simulatedMax)
		if bits := 8 * f.Width; bits < 64 {
			maxForWidth := uint64(1)<<bits - 1
			if f.Kind == telemetry.KindSigned {
				maxForWidth >>= 1
			}
			limit = min(limit, maxForWidth)
		}

		n := s.rng.Uint64N(limit + 1)
		v := telemetry.FieldValue{Name: f.Name, Kind: f.Kind}
		switch f.Kind {
		case telemetry.KindSigned:
			v.Int = int64(n)
		case telemetry.KindUnsigned:
			v.Uint = n
		case telemetry.KindFloat:
			v.Float = float64(n) + s.rng.Float64()
		}
		values[f.Name] = v
	}
	return values
}

// SetOnFrame sets the callback for observed frames.
func (s *Simulator) SetOnFrame(fn func(telemetry.Frame)) {
	s.dispatch.setOnFrame(fn)
}

// Close cancels pending responses and stops the callback workers.
func (s *Simulator) Close() error {
	s.timersMu.Lock()
	for t := range s.timers {
		t.Stop()
	}
	clear(s.timers)
	s.timersMu.Unlock()

	s.dispatch.close()
	return nil
}
