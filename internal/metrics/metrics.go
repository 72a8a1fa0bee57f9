package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Monitoring engine metrics for production monitoring
var (
	// Evaluation pass metrics
	EvaluationPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_monitor_evaluation_passes_total",
			Help: "Total number of evaluation passes",
		},
		[]string{"trigger", "result"}, // trigger: scheduled/manual/cli, result: ok/fetch_error
	)

	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_monitor_evaluation_duration_seconds",
			Help:    "Evaluation pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"result"},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_monitor_findings_total",
			Help: "Total number of detector and signal findings",
		},
		[]string{"condition"},
	)

	// Alert store metrics
	AlertsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_monitor_alerts_ingested_total",
			Help: "Total number of alerts accepted into an alert store",
		},
		[]string{"kind", "severity"},
	)

	AlertsDeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_monitor_alerts_deduplicated_total",
			Help: "Total number of alerts dropped because their id was already stored or dismissed",
		},
	)

	AlertsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_monitor_alerts_evicted_total",
			Help: "Total number of alerts evicted by the store capacity",
		},
	)

	UnreadAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_monitor_unread_alerts",
			Help: "Current number of unread alerts per entity",
		},
		[]string{"entity"},
	)

	// Action routing metrics
	ActionsRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_monitor_actions_routed_total",
			Help: "Total number of remediation actions routed",
		},
		[]string{"route", "status"}, // status: delivered/failed/dropped
	)

	// Scheduler metrics
	ActiveRunners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_monitor_scheduler_runners",
			Help: "Number of entities with an active evaluation runner",
		},
	)

	ManualTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_monitor_manual_triggers_total",
			Help: "Total number of manual re-evaluation requests",
		},
		[]string{"outcome"}, // queued/coalesced/rate_limited/not_monitored
	)

	// Push stream metrics
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_monitor_stream_clients",
			Help: "Number of connected alert stream clients",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_monitor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_monitor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
