// Package metrics holds the Prometheus collectors shared by the HTTP layer,
// the storage layer and the reply pipeline. Collectors are registered on the
// default registry at init and exposed through Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

var (
	// HTTPRequests counts requests by method, chi route pattern and status code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPLatency omits status to keep cardinality low.
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Replies counts assistant replies by thinking mode and outcome.
	Replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_replies_total",
			Help: "Assistant replies by mode (normal/deep) and outcome (ok/fallback/error).",
		},
		[]string{"mode", "outcome"},
	)

	// StorageFailures counts storage operations that returned false or absent
	// because of an I/O or encoding problem.
	StorageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_failures_total",
			Help: "Storage operations that failed, by entity and operation.",
		},
		[]string{"entity", "op"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPLatency, HTTPInflight, Replies, StorageFailures)
}

// ObserveReply records one assistant reply.
func ObserveReply(deep bool, outcome string) {
	mode := "normal"
	if deep {
		mode = "deep"
	}
	Replies.WithLabelValues(mode, outcome).Inc()
}

// StorageFailure records one failed storage operation.
func StorageFailure(entity, op string) {
	StorageFailures.WithLabelValues(entity, op).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
