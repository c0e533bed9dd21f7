package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// 任务处理计数 status: completed, retried, dead_lettered, skipped
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotime_jobs_processed_total",
			Help: "Total number of queue jobs processed, by queue, job name and outcome",
		},
		[]string{"queue", "job", "status"},
	)

	// 任务处理耗时（毫秒）
	JobLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duotime_job_latency_ms",
			Help:    "Queue job handler latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5ms to ~10s
		},
		[]string{"queue", "job"},
	)

	// 已入队的任务
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotime_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"queue", "job"},
	)

	// 推送结果 status: ok, error, no_token, breaker_open
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotime_push_deliveries_total",
			Help: "Push gateway deliveries by outcome",
		},
		[]string{"status"},
	)

	// Pub/Sub 发布计数
	BusPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotime_bus_publishes_total",
			Help: "Pub/sub publishes by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	// 慢查询计数
	SlowQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duotime_db_slow_queries_total",
			Help: "Number of database queries slower than the configured threshold",
		},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duotime_db_slow_query_duration_seconds",
			Help:    "Duration of slow database queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12s
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordJob 记录任务处理结果与耗时
func RecordJob(queue, job, status string, duration time.Duration) {
	JobsProcessed.WithLabelValues(queue, job, status).Inc()
	JobLatency.WithLabelValues(queue, job).Observe(float64(duration.Milliseconds()))
}

func IncrementJobEnqueued(queue, job string) {
	JobsEnqueued.WithLabelValues(queue, job).Inc()
}

func IncrementPush(status string) {
	PushDeliveries.WithLabelValues(status).Inc()
}

func IncrementBusPublish(channel, status string) {
	BusPublishes.WithLabelValues(channel, status).Inc()
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(duration time.Duration) {
	SlowQueries.Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}
