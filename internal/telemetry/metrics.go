/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SchedulerRunsTotal counts finished runs by mode and result.
	SchedulerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_runs_total",
		Help: "Scheduler runs by run mode and result (ok, error, locked).",
	}, []string{"mode", "result"})

	SchedulerRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_run_duration_seconds",
		Help:    "Wall time of a scheduler run.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"mode"})

	SchedulerStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_stage_duration_seconds",
		Help:    "Wall time spent in each run stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	SchedulerPlacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_placements_total",
		Help: "Placements by source type and action (created, rescheduled, kept).",
	}, []string{"source_type", "action"})

	SchedulerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_failures_total",
		Help: "Unplaced items by source type and reason code.",
	}, []string{"source_type", "reason"})

	SchedulerCancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_cancellations_total",
		Help: "Instances canceled during reconciliation by cause.",
	}, []string{"cause"})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_errors_total",
		Help: "Run aborts and daemon trigger errors by stage.",
	}, []string{"stage"})

	RunLockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "run_lock_contention_total",
		Help: "Run attempts rejected because another run held the user lease.",
	})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_operation_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_active",
		Help: "Open database connections.",
	})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Daemon HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "Daemon HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "api_active_connections",
		Help: "In-flight daemon HTTP requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
