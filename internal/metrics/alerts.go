// Package metrics exposes Prometheus collectors for the alert engine.
//
// All recorder methods are safe to call on a nil *AlertMetrics so components
// can run without a registry in tests.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dealerdash"

// Run outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRecovered = "recovered"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

// AlertMetrics groups the alert engine collectors.
type AlertMetrics struct {
	alertsCreated     *prometheus.CounterVec
	alertsResolved    *prometheus.CounterVec
	duplicatesBlocked *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	retries           prometheus.Counter
	stepFailures      *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	lastSuccessfulRun prometheus.Gauge
}

// NewAlertMetrics creates the collectors and registers them with reg.
func NewAlertMetrics(reg prometheus.Registerer) (*AlertMetrics, error) {
	m := &AlertMetrics{
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Alerts created by rule evaluators.",
		}, []string{"category", "priority"}),
		alertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "resolved_total",
			Help:      "Alerts resolved, by category and reason.",
		}, []string{"category", "reason"}),
		duplicatesBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "duplicates_blocked_total",
			Help:      "Inserts rejected by the unresolved-alert unique index.",
		}, []string{"category"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Alert check runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Wall time of alert check runs including retries.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "retries_total",
			Help:      "Retry attempts after a failed pipeline attempt.",
		}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "step_failures_total",
			Help:      "Failed pipeline step executions.",
		}, []string{"step"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Notification attempts by outcome.",
		}, []string{"outcome"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "events_published_total",
			Help:      "Alert lifecycle events sent to the message broker.",
		}, []string{"kind", "outcome"}),
		lastSuccessfulRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed every step.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.alertsCreated, m.alertsResolved, m.duplicatesBlocked,
		m.runs, m.runDuration, m.retries, m.stepFailures,
		m.notifications, m.eventsPublished, m.lastSuccessfulRun,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register alert metrics: %w", err)
		}
	}
	return m, nil
}

func (m *AlertMetrics) AlertCreated(category, priority string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(category, priority).Inc()
}

func (m *AlertMetrics) AlertResolved(category, reason string) {
	if m == nil {
		return
	}
	m.alertsResolved.WithLabelValues(category, reason).Inc()
}

func (m *AlertMetrics) DuplicateBlocked(category string) {
	if m == nil {
		return
	}
	m.duplicatesBlocked.WithLabelValues(category).Inc()
}

// RunFinished records a completed run. Skipped runs have no duration.
func (m *AlertMetrics) RunFinished(outcome string, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSkipped {
		return
	}
	m.runDuration.Observe(d.Seconds())
	if outcome == OutcomeSuccess || outcome == OutcomeRecovered {
		m.lastSuccessfulRun.Set(float64(at.Unix()))
	}
}

func (m *AlertMetrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *AlertMetrics) StepFailed(step string) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(step).Inc()
}

func (m *AlertMetrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *AlertMetrics) EventPublished(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.eventsPublished.WithLabelValues(kind, outcome).Inc()
}
