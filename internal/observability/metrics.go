package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Queue metrics
	QueueDepth     prometheus.Gauge
	QueueEnqueued  prometheus.Counter
	QueueDequeued  prometheus.Counter
	QueueCompleted prometheus.Counter
	QueueFailed    prometheus.Counter

	// Normalization metrics
	RecordsNormalized *prometheus.CounterVec
	RecordsMalformed  *prometheus.CounterVec

	// Reconciliation metrics
	MergesTotal       prometheus.Counter
	MergesFailed      prometheus.Counter
	ReconcileDuration prometheus.Histogram

	// Policy metrics
	PolicyAlerts    prometheus.Counter
	PolicyEvaluated prometheus.Counter

	// Feed metrics
	AdvisoriesDiscovered prometheus.Counter
	FeedErrors           prometheus.Counter

	// Analysis metrics
	AnalysisRuns     prometheus.Counter
	AnalysisFailed   prometheus.Counter
	AnalysisDuration prometheus.Histogram
	ClustersFound    prometheus.Gauge

	// Worker metrics
	WorkerTasksProcessed prometheus.Counter
	WorkerErrors         prometheus.Counter

	// API metrics
	APIRequests *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			// Queue metrics
			QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "vulnforge_queue_depth",
				Help: "Current number of reconcile tasks in the queue",
			}),
			QueueEnqueued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_queue_enqueued_total",
				Help: "Total number of tasks enqueued",
			}),
			QueueDequeued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_queue_dequeued_total",
				Help: "Total number of tasks dequeued",
			}),
			QueueCompleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_queue_completed_total",
				Help: "Total number of tasks completed successfully",
			}),
			QueueFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_queue_failed_total",
				Help: "Total number of tasks that failed",
			}),

			// Normalization metrics
			RecordsNormalized: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vulnforge_records_normalized_total",
					Help: "Total number of raw advisory records normalized by source",
				},
				[]string{"source"},
			),
			RecordsMalformed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vulnforge_records_malformed_total",
					Help: "Total number of raw advisory records dropped as malformed by source",
				},
				[]string{"source"},
			),

			// Reconciliation metrics
			MergesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_merges_total",
				Help: "Total number of merge operations performed",
			}),
			MergesFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_merges_failed_total",
				Help: "Total number of merge operations that failed",
			}),
			ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "vulnforge_reconcile_duration_seconds",
				Help:    "Duration of reconcile workflows in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			}),

			// Policy metrics
			PolicyAlerts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_policy_alerts_total",
				Help: "Total number of records that matched the alert policy",
			}),
			PolicyEvaluated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_policy_evaluated_total",
				Help: "Total number of policy evaluations performed",
			}),

			// Feed metrics
			AdvisoriesDiscovered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_advisories_discovered_total",
				Help: "Total number of raw advisories discovered by the feed",
			}),
			FeedErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_feed_errors_total",
				Help: "Total number of feed loading errors",
			}),

			// Analysis metrics
			AnalysisRuns: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_analysis_runs_total",
				Help: "Total number of corpus analysis runs",
			}),
			AnalysisFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_analysis_failed_total",
				Help: "Total number of corpus analysis runs that failed",
			}),
			AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "vulnforge_analysis_duration_seconds",
				Help:    "Duration of corpus analysis runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			}),
			ClustersFound: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "vulnforge_description_clusters",
				Help: "Number of description similarity clusters in the latest analysis",
			}),

			// Worker metrics
			WorkerTasksProcessed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_worker_tasks_processed_total",
				Help: "Total number of tasks processed by workers",
			}),
			WorkerErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vulnforge_worker_errors_total",
				Help: "Total number of worker errors",
			}),

			// API metrics
			APIRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vulnforge_api_requests_total",
					Help: "Total number of API requests by endpoint and status",
				},
				[]string{"endpoint", "status"},
			),
		}
	})
	return metricsInstance
}
