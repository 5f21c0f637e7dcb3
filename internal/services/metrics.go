// Package services – Prometheus instrumentation
//
// Counters for the ingestion pipeline and the retry scheduler. Registered on
// the default registry and exposed through the /metrics route.
package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts decoded deliveries by event type and outcome
	// (applied, already_applied, deferred, ignored).
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events processed, by event type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// malformedTotal counts deliveries whose body failed envelope decoding.
	malformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_events_malformed_total",
			Help: "Webhook deliveries with undecodable payloads.",
		},
	)

	// retryAttemptsTotal counts scheduler replay attempts by result
	// (resolved, failed, skipped).
	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_retry_attempts_total",
			Help: "Retry scheduler replay attempts, by result.",
		},
		[]string{"result"},
	)

	// retryExhaustedTotal counts entries dead-lettered after using their
	// full retry budget.
	retryExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_retry_exhausted_total",
			Help: "Failed events that exhausted their retry budget.",
		},
	)
)
