package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecrm_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// PermissionChecks counts permission evaluations by path (binary|resolver) and outcome.
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecrm_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"path", "result"},
	)

	// SecretValidations counts affiliate secret validations by outcome
	// (valid|unauthorized|forbidden|error) and whether the cache served it.
	SecretValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecrm_secret_validations_total",
			Help: "Total number of affiliate secret validations",
		},
		[]string{"result", "source"},
	)

	// SecretUsageFlushes observes usage tracker batch flushes.
	SecretUsageFlushes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecrm_secret_usage_flush_batch_size",
			Help:    "Number of usage events applied per tracker flush",
			Buckets: []float64{1, 5, 10, 25, 50},
		},
		[]string{"result"},
	)

	// SecretUsageDropped counts usage events dropped under backpressure.
	SecretUsageDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecrm_secret_usage_dropped_total",
			Help: "Usage events discarded because the tracker queue was full",
		},
	)

	// ActiveSessions tracks sessions that are neither revoked nor expired.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecrm_active_sessions",
			Help: "Number of active user sessions",
		},
	)

	// OutboxMessages counts outbox messages by terminal outcome per cycle
	// (processed|failed|dead_lettered).
	OutboxMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecrm_outbox_messages_total",
			Help: "Outbox messages handled by the background worker",
		},
		[]string{"result"},
	)

	// OutboxLockContention counts worker cycles that could not take the lock.
	OutboxLockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecrm_outbox_lock_contention_total",
			Help: "Worker cycles skipped because another instance held the lock",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecrm_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
