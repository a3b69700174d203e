package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/metrics"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

const (
	// callbackQueueSize is the buffer between the bus reader and each
	// callback worker.
	callbackQueueSize = 100

	// callbackWorkerCount is the number of concurrent callback workers.
	callbackWorkerCount = 4
)

// dispatcher runs frame callbacks on a bounded worker pool. Every frame
// for a device goes to the same worker, so one device's frames reach the
// callback in the order they were read.
type dispatcher struct {
	queues []chan telemetry.Frame
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	onFrame func(telemetry.Frame)
	mu      sync.RWMutex

	dropped atomic.Uint64
	metrics *metrics.Registry
	logger  Logger
}

func newDispatcher(m *metrics.Registry, logger Logger) *dispatcher {
	d := &dispatcher{
		queues:  make([]chan telemetry.Frame, callbackWorkerCount),
		done:    make(chan struct{}),
		metrics: m,
		logger:  logger,
	}
	for i := range d.queues {
		d.queues[i] = make(chan telemetry.Frame, callbackQueueSize)
		d.wg.Add(1)
		go d.worker(d.queues[i])
	}
	return d
}

func (d *dispatcher) setOnFrame(fn func(telemetry.Frame)) {
	d.mu.Lock()
	d.onFrame = fn
	d.mu.Unlock()
}

// queueFor returns the worker queue that owns id.
func (d *dispatcher) queueFor(id telemetry.DeviceID) chan telemetry.Frame {
	return d.queues[uint64(id)%uint64(len(d.queues))]
}

// dispatch queues f without blocking. It reports false when f was dropped.
func (d *dispatcher) dispatch(f telemetry.Frame) bool {
	d.mu.RLock()
	hasCallback := d.onFrame != nil
	d.mu.RUnlock()
	if !hasCallback {
		return false
	}

	select {
	case <-d.done:
		return false
	default:
	}

	select {
	case d.queueFor(f.DeviceID) <- f:
		return true
	default:
		d.dropped.Add(1)
		d.metrics.CallbackDropped()
		if d.logger != nil {
			d.logger.Warn("frame callback queue full, dropping frame", "device", f.DeviceID.String())
		}
		return false
	}
}

func (d *dispatcher) worker(queue chan telemetry.Frame) {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			drain(queue)
			return
		case f := <-queue:
			d.deliver(f)
		}
	}
}

func (d *dispatcher) deliver(f telemetry.Frame) {
	d.mu.RLock()
	fn := d.onFrame
	d.mu.RUnlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error("frame callback panic", "error", fmt.Errorf("%v", r))
		}
	}()
	fn(f)
}

// drain discards queued frames during shutdown.
func drain(queue chan telemetry.Frame) {
	for {
		select {
		case <-queue:
		default:
			return
		}
	}
}

// close stops the workers and waits for in-flight callbacks.
func (d *dispatcher) close() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *dispatcher) closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
