// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServerInfo carries static build labels.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_server_info",
		Help: "Static server information.",
	}, []string{"version", "backend"})

	// JobsProcessed counts executor outcomes per queue.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_jobs_processed_total",
		Help: "Analysis jobs processed, by queue and outcome.",
	}, []string{"queue", "outcome"})

	// JobDuration observes analyzer wall time.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_job_duration_seconds",
		Help:    "Wall time of one analysis job execution.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
	})

	// RetriesScheduled counts delayed retries handed to the queue.
	RetriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_retries_scheduled_total",
		Help: "Transient failures rescheduled with backoff.",
	})

	// DeadLetterDepth is the number of jobs parked for manual review.
	DeadLetterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_dead_letter_depth",
		Help: "Jobs currently in the dead-letter queue.",
	})

	// BatchItems counts items the batch driver has submitted or skipped.
	BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_batch_items_total",
		Help: "Batch items handled by the driver, by disposition.",
	}, []string{"disposition"})

	// TeamsByHealth gauges the team population per health status.
	TeamsByHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_teams_by_health",
		Help: "Teams per derived health status.",
	}, []string{"status"})
)

// Init sets the static server info metric.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}
