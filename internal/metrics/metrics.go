// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package metrics defines the Prometheus collectors for Metricus. All
// collectors are registered with the default registry via promauto and
// exposed on the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync run metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"result"}, // "success", "partial", "failure"
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricus_sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncPeriodActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_sync_period_actions_total",
			Help: "Period-level decision table outcomes",
		},
		[]string{"action"}, // "skip", "fetch_daily", "fetch_monthly", "downsample", "upgrade"
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_sync_errors_total",
			Help: "Total number of sync errors by stage",
		},
		[]string{"stage"}, // "auth", "fetch", "process", "store"
	)

	// Reporting API client metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_api_requests_total",
			Help: "Total reporting API requests by report shape and result",
		},
		[]string{"report", "result"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metricus_api_request_duration_seconds",
			Help:    "Reporting API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"report"},
	)

	// Token refresh metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_token_refreshes_total",
			Help: "Outbound token refresh calls by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	TokenRefreshesShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricus_token_refreshes_shared_total",
			Help: "Refresh requests coalesced into an already in-flight refresh",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metricus_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Status registry metrics
	RegistryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricus_fetch_status_entries",
			Help: "Current number of tracked fetch status entries",
		},
	)

	RegistryEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_fetch_status_evictions_total",
			Help: "Status registry removals by reason",
		},
		[]string{"reason"}, // "grace", "ttl", "force", "capacity"
	)

	// Job queue metrics
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_jobs_processed_total",
			Help: "Background jobs processed by result",
		},
		[]string{"result"}, // "success", "failure", "retried", "dropped"
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricus_jobs_queued",
			Help: "Jobs currently waiting in the queue",
		},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricus_http_requests_total",
			Help: "Operator API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)
)

// RecordSyncRun records one sync run outcome with its duration. A run with
// errors that still processed some periods counts as partial.
func RecordSyncRun(duration time.Duration, success bool, periodsProcessed int) {
	result := "success"
	if !success {
		result = "failure"
		if periodsProcessed > 0 {
			result = "partial"
		}
	}
	SyncRuns.WithLabelValues(result).Inc()
	SyncRunDuration.Observe(duration.Seconds())
}
