// Package metrics exposes Prometheus instrumentation for resolution runs,
// batch sweeps and oracle calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the resolver's collectors.
type Metrics struct {
	// Resolutions by terminal tier (cache, offline, cheap, expensive, none).
	Resolutions *prometheus.CounterVec

	// Escalations from the cheap to the expensive tier by reason.
	Escalations *prometheus.CounterVec

	// SweepItems by sweep kind and outcome.
	SweepItems *prometheus.CounterVec

	// OracleLatency by tier and outcome.
	OracleLatency *prometheus.HistogramVec

	// ExpensiveSkipped counts expensive-tier calls skipped by the daily cap.
	ExpensiveSkipped prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_resolutions_total",
			Help: "Interactive resolution runs by terminal tier",
		}, []string{"tier"}),

		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_escalations_total",
			Help: "Cheap-tier results escalated to the expensive tier by reason",
		}, []string{"reason"}),

		SweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_sweep_items_total",
			Help: "Batch sweep work items by sweep kind and outcome",
		}, []string{"sweep", "outcome"}),

		OracleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_oracle_duration_seconds",
			Help:    "Duration of oracle queries by tier and outcome",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"tier", "outcome"}),

		ExpensiveSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_expensive_tier_skipped_total",
			Help: "Expensive-tier escalations skipped because the daily cap was reached",
		}),
	}
}

// IncResolution records a terminal resolution tier.
func (m *Metrics) IncResolution(tier string) {
	if m != nil {
		m.Resolutions.WithLabelValues(tier).Inc()
	}
}

// IncEscalation records an escalation reason.
func (m *Metrics) IncEscalation(reason string) {
	if m != nil {
		m.Escalations.WithLabelValues(reason).Inc()
	}
}

// IncSweepItem records one processed sweep item.
func (m *Metrics) IncSweepItem(sweep, outcome string) {
	if m != nil {
		m.SweepItems.WithLabelValues(sweep, outcome).Inc()
	}
}

// ObserveOracle records one oracle call.
func (m *Metrics) ObserveOracle(tier, outcome string, d time.Duration) {
	if m != nil {
		m.OracleLatency.WithLabelValues(tier, outcome).Observe(d.Seconds())
	}
}

// IncExpensiveSkipped records a cap-limited escalation.
func (m *Metrics) IncExpensiveSkipped() {
	if m != nil {
		m.ExpensiveSkipped.Inc()
	}
}
