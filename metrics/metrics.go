// Package metrics holds the prometheus collectors of the relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat_relay"

// Turn outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomeTimeout     = "timeout"
	OutcomeUpstream    = "upstream_error"
	OutcomeCanceled    = "canceled"
	OutcomeInternal    = "internal_error"
	OutcomeUnavailable = "unavailable"
)

// Metrics groups every collector the relay updates
type Metrics struct {
	Turns            *prometheus.CounterVec
	Tokens           prometheus.Counter
	MalformedBlocks  *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	ActiveStreams    prometheus.Gauge
	TimeToFirstToken prometheus.Histogram
}

// New creates the collectors and registers them with reg when it is non-nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns relayed, by outcome.",
		}, []string{"outcome"}),
		Tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Token fragments relayed to clients.",
		}),
		MalformedBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_blocks_total",
			Help:      "Upstream blocks that failed to decode, by resolution (repaired or skipped).",
		}, []string{"resolution"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Transcript writes that failed or were dropped.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Turns currently streaming.",
		}),
		TimeToFirstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_token_seconds",
			Help:      "Delay between the upstream request and the first relayed token.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Turns,
			m.Tokens,
			m.MalformedBlocks,
			m.PersistFailures,
			m.ActiveStreams,
			m.TimeToFirstToken,
		)
	}
	return m
}

// TurnFinished records the outcome of one turn
func (m *Metrics) TurnFinished(outcome string) {
	m.Turns.WithLabelValues(outcome).Inc()
}

// FirstToken observes the time to first token since start
func (m *Metrics) FirstToken(start time.Time) {
	m.TimeToFirstToken.Observe(time.Since(start).Seconds())
}
