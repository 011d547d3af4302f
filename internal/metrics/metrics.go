// Package metrics 抓取链路的 prometheus 指标，通过 /metrics 暴露
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsSunk = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialsync_records_sunk_total",
			Help: "Records written to a sink",
		},
		[]string{"platform", "kind", "sink"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialsync_fetch_errors_total",
			Help: "Platform request failures by error class",
		},
		[]string{"platform", "op", "class"},
	)

	EngineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialsync_engine_runs_total",
			Help: "Finished ingestion runs",
		},
		[]string{"platform", "mode", "status"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialsync_job_runs_total",
			Help: "Scheduler job executions",
		},
		[]string{"job", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "socialsync_request_duration_seconds",
			Help:    "Platform request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform", "op"},
	)
)

// ObserveRequest 记录一次平台请求的耗时
func ObserveRequest(platform, op string, started time.Time) {
	RequestDuration.WithLabelValues(platform, op).Observe(time.Since(started).Seconds())
}
