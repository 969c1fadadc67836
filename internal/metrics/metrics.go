// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gardenbot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gardenbot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Ingestion metrics
	CollectRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gardenbot_collect_runs_total",
			Help: "Collection runs by outcome",
		},
		[]string{"outcome"}, // "ok", "error" or "cancelled"
	)

	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gardenbot_messages_ingested_total",
			Help: "Fetched chat records by ingestion result",
		},
		[]string{"result"}, // "inserted", "duplicate", "skipped" or "failed"
	)

	// Scheduler metrics
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gardenbot_task_runs_total",
			Help: "Scheduled task runs by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gardenbot_notifications_sent_total",
			Help: "No-show notifications by backend",
		},
		[]string{"backend"},
	)
)
