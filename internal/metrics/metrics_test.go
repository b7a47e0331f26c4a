package metrics

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEnabled(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"1":     true,
		"true":  true,
		"yes":   true,
	}
	for val, want := range cases {
		t.Setenv("LIBGKFS_ENABLE_METRICS", val)
		if got := Enabled(); got != want {
			t.Errorf("Enabled() with env=%q = %v, want %v", val, got, want)
		}
	}
	os.Unsetenv("LIBGKFS_ENABLE_METRICS")
}

func TestNoopRecorderDiscardsObservations(t *testing.T) {
	r := NewNoop()
	r.ObserveRPC("rpc_srv_write", 0.01, false)
	r.ObserveRPC("rpc_srv_write", 0.02, true)
	// No registry to inspect; this only confirms ObserveRPC never panics
	// on an unregistered Recorder.
}

func TestRecorderObservesRequestsAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveRPC("rpc_srv_write", 0.01, false)
	r.ObserveRPC("rpc_srv_write", 0.02, true)
	r.ObserveRPC("rpc_srv_read", 0.005, false)

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var requestsTotal, errorsTotal float64
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "burstfs_rpc_requests_total":
			requestsTotal = sumCounters(mf)
		case "burstfs_rpc_errors_total":
			errorsTotal = sumCounters(mf)
		}
	}

	if requestsTotal != 3 {
		t.Errorf("requests_total = %v, want 3", requestsTotal)
	}
	if errorsTotal != 1 {
		t.Errorf("errors_total = %v, want 1", errorsTotal)
	}
}

func sumCounters(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}
