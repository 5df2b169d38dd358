// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsScored counts scored expenses by resulting risk level.
	EventsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "splitguard",
		Name:      "events_scored_total",
		Help:      "Expense events scored, labeled by risk level.",
	}, []string{"risk_level"})

	// EventsRejected counts events that failed validation.
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "splitguard",
		Name:      "events_rejected_total",
		Help:      "Expense events rejected at validation.",
	})

	// DegradedVerdicts counts verdicts produced without a working ML signal.
	DegradedVerdicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "splitguard",
		Name:      "degraded_verdicts_total",
		Help:      "Verdicts where the anomaly provider was unavailable or failed.",
	})

	// SuspiciousVerdicts counts verdicts at or above the suspicion threshold.
	SuspiciousVerdicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "splitguard",
		Name:      "suspicious_verdicts_total",
		Help:      "Verdicts flagged as suspicious.",
	})

	// ScoringDuration tracks end-to-end scoring latency.
	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "splitguard",
		Name:      "scoring_duration_seconds",
		Help:      "Latency of scoring one expense event.",
		Buckets:   prometheus.DefBuckets,
	})

	// AlertsRaised counts alerts by signal type and severity.
	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "splitguard",
		Name:      "alerts_raised_total",
		Help:      "Alerts raised, labeled by signal type and severity.",
	}, []string{"signal", "severity"})

	// Deliveries counts notification channel sends by channel and outcome.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "splitguard",
		Name:      "notification_deliveries_total",
		Help:      "Notification delivery attempts, labeled by channel and outcome.",
	}, []string{"channel", "outcome"})
)
