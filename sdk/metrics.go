package sdk

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marwen-abid/anchor-remit-go/errors"
)

// Metrics holds the Prometheus collectors for Client pipelines.
// A nil *Metrics records nothing.
type Metrics struct {
	sends    *prometheus.CounterVec
	failures *prometheus.CounterVec
	reauths  prometheus.Counter
}

// NewMetrics creates the pipeline collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchor_client",
			Subsystem: "send",
			Name:      "total",
			Help:      "Send pipelines by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchor_client",
			Subsystem: "stage",
			Name:      "failures_total",
			Help:      "Stage failures by stage and error code.",
		}, []string{"stage", "code"}),
		reauths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anchor_client",
			Subsystem: "auth",
			Name:      "reauthentications_total",
			Help:      "Tokens replaced after the anchor refused them.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.failures, m.reauths)
	}
	return m
}

// Sends exposes the send counter, mainly for tests.
func (m *Metrics) Sends() *prometheus.CounterVec {
	return m.sends
}

// Failures exposes the stage failure counter, mainly for tests.
func (m *Metrics) Failures() *prometheus.CounterVec {
	return m.failures
}

func (m *Metrics) send(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) failure(stage errors.Stage, err error) {
	if m == nil || err == nil {
		return
	}
	m.failures.WithLabelValues(string(stage), string(errors.CodeOf(err))).Inc()
}

func (m *Metrics) reauth() {
	if m == nil {
		return
	}
	m.reauths.Inc()
}
