package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner, ledger and scheduler counters, partitioned by network.

var (
	// Scanner
	ScannerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "cycles_total",
		Help:      "Total scan cycles by outcome",
	}, []string{"network", "outcome"})

	ScannerCycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "cycle_duration_seconds",
		Help:      "Scan cycle duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"network"})

	ScannerSignaturesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "signatures_fetched_total",
		Help:      "Total signatures returned by the listing call",
	}, []string{"network"})

	ScannerTransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "transactions_processed_total",
		Help:      "Total transactions handled by result (recorded, duplicate, skipped, failed)",
	}, []string{"network", "result"})

	ScannerCursorGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "cursor_gaps_total",
		Help:      "Cycles where the stored cursor was not in the fetched window",
	}, []string{"network"})

	ScannerSettledCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "settled_cache_hits_total",
		Help:      "Signatures skipped because they were already settled in this process",
	}, []string{"network"})

	// Recorder
	ActivitiesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "ledger",
		Name:      "activities_recorded_total",
		Help:      "Total credited activities by type",
	}, []string{"activity_type"})

	ActivitiesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "ledger",
		Name:      "activities_duplicate_total",
		Help:      "Total activities rejected as already processed",
	}, []string{"activity_type"})

	PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "ledger",
		Name:      "points_awarded_total",
		Help:      "Total points credited by type",
	}, []string{"activity_type"})

	// Scheduler
	SchedulerTicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "scheduler",
		Name:      "ticks_skipped_total",
		Help:      "Ticks skipped by reason (overlap, locked)",
	}, []string{"reason"})

	SchedulerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "scheduler",
		Name:      "running",
		Help:      "1 while the scan scheduler is running",
	})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC calls by method and status",
	}, []string{"chain", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times an RPC call waited for a rate limit token",
	}, []string{"chain"})

	RPCRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Total RPC retries after a rate limited response",
	}, []string{"chain", "method"})

	// DB pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Current number of idle PostgreSQL connections",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Total number of connections waited for",
	})

	DBPoolWaitDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "postgres",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Total time blocked waiting for a new connection",
	})

	// Scan health
	ScanHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "health_status",
		Help:      "Scanner health status (0=UNKNOWN, 1=HEALTHY, 2=UNHEALTHY, 3=INACTIVE)",
	}, []string{"network"})

	ScanConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "points",
		Subsystem: "scanner",
		Name:      "consecutive_failures",
		Help:      "Number of consecutive aborted scan cycles",
	}, []string{"network"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})

	// API
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total API requests by route and status code",
	}, []string{"route", "code"})
)
