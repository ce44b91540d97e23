package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"statement"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue", "outcome"},
	)

	// 每日记录 upsert 次数，outcome: created, updated, invalid, failed
	DailyLogUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_log_upserts_total",
			Help: "Daily log upserts by outcome",
		},
		[]string{"outcome"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_log_validation_failures_total",
			Help: "Rejected daily log submissions by field",
		},
		[]string{"field"},
	)

	StatsRecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stats_recompute_duration_seconds",
			Help:    "Time spent recomputing one user's statistics",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"trigger"},
	)

	AchievementsUnlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "achievements_unlocked_total",
			Help: "Achievements unlocked across all users",
		},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Open websocket connections on this instance",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker by result",
		},
		[]string{"result"},
	)
)

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordDBQueryDuration(statement string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(statement).Observe(duration.Seconds())
}

func IncrementSlowQuery(statement string) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue, outcome string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue, outcome).Observe(float64(duration.Milliseconds()))
}

func IncrementDailyLogUpsert(outcome string) {
	DailyLogUpserts.WithLabelValues(outcome).Inc()
}

func IncrementValidationFailure(field string) {
	ValidationFailures.WithLabelValues(field).Inc()
}

func RecordStatsRecompute(trigger string, duration time.Duration) {
	StatsRecomputeDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

func AddAchievementsUnlocked(n int) {
	AchievementsUnlocked.Add(float64(n))
}

func IncrementOutboxPublished(result string) {
	OutboxPublished.WithLabelValues(result).Inc()
}
