// Package metrics provides Prometheus metrics for the settlement scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scheduler.
type Metrics struct {
	// Queue metrics
	JobTransitions *prometheus.CounterVec
	DeadLettered   *prometheus.CounterVec
	JobsEnqueued   *prometheus.CounterVec

	// Settlement metrics
	SettlementOutcomes *prometheus.CounterVec
	SettlementDuration prometheus.Histogram

	// Reconciliation metrics
	Evaluations *prometheus.CounterVec

	// Ingress metrics
	Notifications *prometheus.CounterVec

	registry *prometheus.Registry
}

var defaultMetrics *Metrics

// Init creates the metrics on a fresh registry and makes them the global
// instance returned by Get. Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(prometheus.NewRegistry(), namespace)
	defaultMetrics = m
	return m
}

// New registers the metrics on reg.
func New(reg *prometheus.Registry, namespace string) *Metrics {
	if namespace == "" {
		namespace = "rafflekeeper"
	}
	f := promauto.With(reg)

	return &Metrics{
		JobTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_transitions_total",
				Help:      "Jobs reaching completed, delayed (retry) or failed",
			},
			[]string{"queue", "status"},
		),
		DeadLettered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_lettered_total",
				Help:      "Jobs that exhausted their attempts",
			},
			[]string{"queue"},
		),
		JobsEnqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Jobs inserted into the delayed queue",
			},
			[]string{"queue"},
		),
		SettlementOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_outcomes_total",
				Help:      "Settlement attempts by outcome",
			},
			[]string{"outcome"},
		),
		SettlementDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "settlement_duration_seconds",
				Help:      "Time from re-validation to confirmed settlement",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
			},
		),
		Evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Round evaluations by trigger and evaluation state",
			},
			[]string{"trigger", "state"},
		),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Inbound change notifications by operation and result",
			},
			[]string{"op", "result"},
		),
		registry: reg,
	}
}

// Get returns the global metrics instance, or nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncJobTransition(queue, status string) {
	m.JobTransitions.WithLabelValues(queue, status).Inc()
	if status == "failed" {
		m.DeadLettered.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) IncJobsEnqueued(queue string) {
	m.JobsEnqueued.WithLabelValues(queue).Inc()
}

func (m *Metrics) IncSettlementOutcome(outcome string) {
	m.SettlementOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSettlementDuration(seconds float64) {
	m.SettlementDuration.Observe(seconds)
}

func (m *Metrics) IncEvaluation(trigger, state string) {
	m.Evaluations.WithLabelValues(trigger, state).Inc()
}

func (m *Metrics) IncNotification(op, result string) {
	m.Notifications.WithLabelValues(op, result).Inc()
}
