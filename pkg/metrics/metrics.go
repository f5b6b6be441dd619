package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Jobs accepted by the enqueue API, by email type.
	EmailJobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_jobs_enqueued_total",
			Help: "Total number of email jobs enqueued",
		},
		[]string{"type"},
	)

	// Per-job outcome of a dispatch: sent, requeued, failed.
	EmailJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_jobs_processed_total",
			Help: "Total number of email jobs processed by outcome",
		},
		[]string{"outcome"},
	)

	ClaimBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_jobs_claim_batch_size",
			Help:    "Number of jobs claimed per dispatch batch",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	// scope: user, global, cooldown
	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_quota_rejections_total",
			Help: "Total number of sends deferred by quota or cooldown",
		},
		[]string{"scope"},
	)

	QuotaOvershoots = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "email_quota_overshoots_total",
			Help: "Emails sent whose ledger update found the counter above its limit",
		},
	)

	StaleJobsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "email_jobs_stale_recovered_total",
			Help: "Jobs taken back from PROCESSING after the staleness timeout",
		},
	)

	// SMTP send latency (ms)
	MailSendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_send_latency_ms",
			Help:    "Mail transport send latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"status"},
	)

	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"sql"},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12.8s
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func IncrementEnqueued(emailType string) {
	EmailJobsEnqueued.WithLabelValues(emailType).Inc()
}

func IncrementProcessed(outcome string) {
	EmailJobsProcessed.WithLabelValues(outcome).Inc()
}

func ObserveClaimBatch(n int) {
	ClaimBatchSize.Observe(float64(n))
}

func IncrementQuotaRejection(scope string) {
	QuotaRejections.WithLabelValues(scope).Inc()
}

func IncrementQuotaOvershoot() {
	QuotaOvershoots.Inc()
}

func AddStaleRecovered(n int64) {
	StaleJobsRecovered.Add(float64(n))
}

func RecordMailSendLatency(status string, duration time.Duration) {
	MailSendLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery records one slow query. sql should already be truncated.
func IncrementSlowQuery(sql string, duration time.Duration) {
	SlowQueries.WithLabelValues(sql).Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
