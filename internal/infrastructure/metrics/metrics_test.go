package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Recorders(t *testing.T) {
	r := New()

	r.Relayed("data")
	r.Relayed("data")
	r.RelayDropped("control")
	r.ControlApplied("0x100", 5)
	r.DecodeFailed("truncated_payload")

	if got := testutil.ToFloat64(r.relayed.WithLabelValues("data")); got != 2 {
		t.Errorf("relayed{data} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.dropped.WithLabelValues("control")); got != 1 {
		t.Errorf("dropped{control} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.deviceFrequency.WithLabelValues("0x100")); got != 5 {
		t.Errorf("device_frequency_hz{0x100} = %v, want 5", got)
	}
	if got := testutil.ToFloat64(r.decodeFailures.WithLabelValues("truncated_payload")); got != 1 {
		t.Errorf("decode_failures{truncated_payload} = %v, want 1", got)
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	// None of these may panic.
	r.Relayed("data")
	r.RequestSent("0x1")
	r.SampleStored("0x1")
	r.QueueDropped()
	r.SetFrequency("0x1", 1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("nil registry handler status = %d", rec.Code)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	r.SampleStored("0x100")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `rtrtelemetry_store_samples_total{device="0x100"} 1`) {
		t.Errorf("exposition missing samples_total:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing Go runtime collector")
	}
}

func TestServe_EmptyAddr(t *testing.T) {
	if err := Serve(context.Background(), "", New()); err != nil {
		t.Errorf("Serve(empty addr) error = %v", err)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", New()) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve() after cancel error = %v", err)
	}
}
