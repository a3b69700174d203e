// Package metrics owns the Prometheus registry shared by the RTR Telemetry
// processes.
//
// Each process creates one Registry and hands it to its components. The
// store serves it on its API port; broker and scheduler serve it on a
// standalone listener (metrics.listen).
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtrtelemetry"

// Registry bundles the Prometheus registry with every collector the
// components update. A nil *Registry is valid; its recorders are no-ops,
// which keeps metrics optional in tests.
type Registry struct {
	reg *prometheus.Registry

	relayed *prometheus.CounterVec
	dropped *prometheus.CounterVec

	requestsSent     *prometheus.CounterVec
	requestErrors    *prometheus.CounterVec
	framesPublished  *prometheus.CounterVec
	framesDiscarded  *prometheus.CounterVec
	controlApplied   *prometheus.CounterVec
	controlRejected  *prometheus.CounterVec
	deviceFrequency  *prometheus.GaugeVec
	callbacksDropped prometheus.Counter

	samplesStored   *prometheus.CounterVec
	decodeFailures  *prometheus.CounterVec
	durableFailures prometheus.Counter
	queueDropped    prometheus.Counter
	controlRelayed  prometheus.Counter
}

func counterVec(subsystem, name, help, label string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, []string{label})
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

// New creates a Registry with Go runtime and process collectors plus the
// RTR collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		relayed: counterVec("broker", "relayed_total", "Messages forwarded from a producer endpoint to its canonical endpoint.", "channel"),
		dropped: counterVec("broker", "dropped_total", "Messages the relay failed to forward.", "channel"),

		requestsSent:    counterVec("scheduler", "requests_sent_total", "Remote-transmission requests issued on the bus.", "device"),
		requestErrors:   counterVec("scheduler", "request_errors_total", "Requests the bus refused.", "device"),
		framesPublished: counterVec("scheduler", "frames_published_total", "Observed frames published on the DATA channel.", "device"),
		framesDiscarded: counterVec("scheduler", "frames_discarded_total", "Observed frames not published.", "reason"),
		controlApplied:  counterVec("scheduler", "control_applied_total", "Frequency changes applied.", "device"),
		controlRejected: counterVec("scheduler", "control_rejected_total", "Control messages ignored.", "reason"),
		deviceFrequency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "device_frequency_hz",
			Help: "Current request frequency per device.",
		}, []string{"device"}),
		callbacksDropped: counter("bus", "callbacks_dropped_total", "Bus frames dropped because the callback queue was full."),

		samplesStored:   counterVec("store", "samples_total", "Decoded samples accepted by the store.", "device"),
		decodeFailures:  counterVec("store", "decode_failures_total", "Frames dropped because they could not be decoded.", "reason"),
		durableFailures: counter("store", "durable_write_failures_total", "Sample log appends that failed."),
		queueDropped:    counter("store", "queue_dropped_total", "Frames dropped because the inbound queue was full."),
		controlRelayed:  counter("store", "control_relayed_total", "Control messages forwarded to the CONTROL producer endpoint."),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.relayed, r.dropped,
		r.requestsSent, r.requestErrors, r.framesPublished, r.framesDiscarded,
		r.controlApplied, r.controlRejected, r.deviceFrequency, r.callbacksDropped,
		r.samplesStored, r.decodeFailures, r.durableFailures, r.queueDropped, r.controlRelayed,
	)
	return r
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Handler returns the /metrics handler.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// =============================================================================
// Recorders
// =============================================================================

func (r *Registry) Relayed(channel string) {
	if r != nil {
		r.relayed.WithLabelValues(channel).Inc()
	}
}

func (r *Registry) RelayDropped(channel string) {
	if r != nil {
		r.dropped.WithLabelValues(channel).Inc()
	}
}

func (r *Registry) RequestSent(device string) {
	if r != nil {
		r.requestsSent.WithLabelValues(device).Inc()
	}
}

func (r *Registry) RequestFailed(device string) {
	if r != nil {
		r.requestErrors.WithLabelValues(device).Inc()
	}
}

func (r *Registry) FramePublished(device string) {
	if r != nil {
		r.framesPublished.WithLabelValues(device).Inc()
	}
}

func (r *Registry) FrameDiscarded(reason string) {
	if r != nil {
		r.framesDiscarded.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) ControlApplied(device string, hz float64) {
	if r != nil {
		r.controlApplied.WithLabelValues(device).Inc()
		r.deviceFrequency.WithLabelValues(device).Set(hz)
	}
}

func (r *Registry) ControlRejected(reason string) {
	if r != nil {
		r.controlRejected.WithLabelValues(reason).Inc()
	}
}

// SetFrequency records a device's frequency without counting a change.
func (r *Registry) SetFrequency(device string, hz float64) {
	if r != nil {
		r.deviceFrequency.WithLabelValues(device).Set(hz)
	}
}

func (r *Registry) CallbackDropped() {
	if r != nil {
		r.callbacksDropped.Inc()
	}
}

func (r *Registry) SampleStored(device string) {
	if r != nil {
		r.samplesStored.WithLabelValues(device).Inc()
	}
}

func (r *Registry) DecodeFailed(reason string) {
	if r != nil {
		r.decodeFailures.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) DurableWriteFailed() {
	if r != nil {
		r.durableFailures.Inc()
	}
}

func (r *Registry) QueueDropped() {
	if r != nil {
		r.queueDropped.Inc()
	}
}

func (r *Registry) ControlRelayed() {
	if r != nil {
		r.controlRelayed.Inc()
	}
}

// Serve runs a standalone /metrics listener on addr until ctx is done.
// An empty addr returns immediately.
func Serve(ctx context.Context, addr string, r *Registry) error {
	if addr == "" || r == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
