// Package metrics exposes Prometheus metrics for rule evaluation, the
// pending-action lifecycle, and the executor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "custodian"
)

// Collector owns the metric registry and every instrument the engine
// records into. A nil *Collector is safe to call; recording becomes a
// no-op, which keeps metrics optional in tests and embedded use.
type Collector struct {
	registry *prometheus.Registry

	evaluationsTotal  *prometheus.CounterVec
	passDuration      *prometheus.HistogramVec
	passesTotal       *prometheus.CounterVec
	degradedTotal     prometheus.Counter
	transitionsTotal  *prometheus.CounterVec
	executorAttempts  *prometheus.CounterVec
	liveActionsGauge  *prometheus.GaugeVec
}

// NewCollector creates a collector with a dedicated registry. Pass nil
// to create a fresh registry.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total criteria evaluations by rule and outcome",
			},
			[]string{"rule_id", "outcome"},
		),

		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rule_pass_duration_seconds",
				Help:      "Duration of complete rule passes in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"rule_id"},
		),

		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_passes_total",
				Help:      "Total rule passes by rule and result",
			},
			[]string{"rule_id", "result"},
		),

		degradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_passes_total",
				Help:      "Rule passes that ran without watch-activity data",
			},
		),

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_transitions_total",
				Help:      "Pending action state transitions by target state",
			},
			[]string{"state"},
		),

		executorAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_attempts_total",
				Help:      "Executor attempts by action type and outcome",
			},
			[]string{"action_type", "outcome"},
		),

		liveActionsGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_actions",
				Help:      "Currently live pending actions by state",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		c.evaluationsTotal,
		c.passDuration,
		c.passesTotal,
		c.degradedTotal,
		c.transitionsTotal,
		c.executorAttempts,
		c.liveActionsGauge,
	)

	return c
}

// RecordEvaluation counts one criteria evaluation.
func (c *Collector) RecordEvaluation(ruleID string, matched bool) {
	if c == nil {
		return
	}
	outcome := "not_matched"
	if matched {
		outcome = "matched"
	}
	c.evaluationsTotal.WithLabelValues(ruleID, outcome).Inc()
}

// RecordPass counts one complete rule pass.
func (c *Collector) RecordPass(ruleID string, duration time.Duration, failed, degraded bool) {
	if c == nil {
		return
	}
	result := "completed"
	if failed {
		result = "failed"
	}
	c.passesTotal.WithLabelValues(ruleID, result).Inc()
	c.passDuration.WithLabelValues(ruleID).Observe(duration.Seconds())
	if degraded {
		c.degradedTotal.Inc()
	}
}

// RecordTransition counts one pending-action state change.
func (c *Collector) RecordTransition(state string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(state).Inc()
}

// RecordExecutorAttempt counts one executor attempt.
func (c *Collector) RecordExecutorAttempt(actionType string, success bool) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.executorAttempts.WithLabelValues(actionType, outcome).Inc()
}

// SetLiveActions updates the live-action gauge for a state.
func (c *Collector) SetLiveActions(state string, n int) {
	if c == nil {
		return
	}
	c.liveActionsGauge.WithLabelValues(state).Set(float64(n))
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
