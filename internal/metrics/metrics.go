package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsObserved tracks Request events decoded by the watcher
	RequestsObserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mechwatch_requests_observed_total",
			Help: "Total number of Request events observed on-chain",
		},
	)

	// DispatchesTotal tracks dispatch outcomes by status
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mechwatch_dispatches_total",
			Help: "Total number of task dispatches by outcome",
		},
		[]string{"status"},
	)

	// DispatchDuration tracks handler compute time
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mechwatch_dispatch_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"tool"},
	)

	// PublishAttempts tracks Deliver transaction submissions
	PublishAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mechwatch_publish_attempts_total",
			Help: "Total number of Deliver transaction submission attempts",
		},
	)

	// PublishFailures tracks deliveries exhausted past their retry budget
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mechwatch_publish_failures_total",
			Help: "Total number of deliveries marked publish_failed",
		},
	)

	// RPCCallsTotal tracks RPC calls by method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mechwatch_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"method"},
	)

	// RPCErrorsTotal tracks RPC errors by method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mechwatch_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mechwatch_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ChainHead tracks the latest confirmed chain head seen
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mechwatch_chain_head_block",
			Help: "Latest block height reported by the RPC endpoint",
		},
	)

	// CursorBlock tracks the watcher's last processed block
	CursorBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mechwatch_cursor_block",
			Help: "Last block fully processed by the event watcher",
		},
	)

	// TasksInFlight tracks concurrently dispatched tasks
	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mechwatch_tasks_in_flight",
			Help: "Number of tasks currently being executed",
		},
	)

	// CooldownsTriggered tracks worker cooldown activations
	CooldownsTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mechwatch_cooldowns_triggered_total",
			Help: "Total number of worker cooldown activations",
		},
	)

	// SlashAccrued tracks advisory slash units accrued
	SlashAccrued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mechwatch_slash_accrued_total",
			Help: "Advisory slash amount accrued by severity",
		},
		[]string{"severity"},
	)

	// AlertsEmitted tracks health alerts by condition
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mechwatch_alerts_emitted_total",
			Help: "Health alerts emitted on condition transitions",
		},
		[]string{"condition"},
	)

	// DBConnectionPoolUsage tracks database pool saturation
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mechwatch_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
