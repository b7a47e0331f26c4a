// Package metrics provides the optional statistics sink daemons and
// proxies may enable, gated by the LIBGKFS_ENABLE_METRICS environment
// variable. With metrics disabled every recorder method is a no-op; no
// exporter endpoint is wired up here (out of scope) — just instrumentation
// points a caller could later expose however it likes (pull via an HTTP
// handler, push via a remote-write client, etc).
package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// Enabled reports whether LIBGKFS_ENABLE_METRICS is set to a truthy value.
func Enabled() bool {
	v := os.Getenv("LIBGKFS_ENABLE_METRICS")
	return v != "" && v != "0" && v != "false"
}

// Recorder records daemon/proxy operation counts and latencies. The zero
// value (via NewNoop) discards everything; New registers real collectors
// against a prometheus.Registerer.
type Recorder struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burstfs",
			Name:      "rpc_requests_total",
			Help:      "Total RPC requests handled, by tag.",
		}, []string{"tag"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "burstfs",
			Name:      "rpc_duration_seconds",
			Help:      "RPC handler latency, by tag.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tag"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burstfs",
			Name:      "rpc_errors_total",
			Help:      "Total RPC requests that returned an application error, by tag.",
		}, []string{"tag"}),
	}
	reg.MustRegister(r.requests, r.latency, r.errors)
	return r
}

// NewNoop returns a Recorder that discards every observation — used when
// Enabled() is false so callers never need a nil check.
func NewNoop() *Recorder {
	return &Recorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "discarded_requests_total"}, []string{"tag"}),
		latency:  prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "discarded_duration_seconds"}, []string{"tag"}),
		errors:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "discarded_errors_total"}, []string{"tag"}),
	}
}

// ObserveRPC records one completed RPC call's tag, latency, and whether
// it returned an application-level error.
func (r *Recorder) ObserveRPC(tag string, seconds float64, failed bool) {
	r.requests.WithLabelValues(tag).Inc()
	r.latency.WithLabelValues(tag).Observe(seconds)
	if failed {
		r.errors.WithLabelValues(tag).Inc()
	}
}
