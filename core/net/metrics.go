package net

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for anchor traffic.
// A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the transport collectors and registers them on reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchor_client",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Outbound anchor requests by host, method and outcome.",
		}, []string{"host", "method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anchor_client",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound anchor requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host", "method"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

// Requests exposes the request counter, mainly for tests.
func (m *Metrics) Requests() *prometheus.CounterVec {
	return m.requests
}

func (m *Metrics) observe(host, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(host, method, outcome).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(host, method).Observe(elapsed.Seconds())
	}
}
