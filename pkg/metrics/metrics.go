package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Store metrics
	StoreOperations     *prometheus.CounterVec
	StoreLatency        *prometheus.HistogramVec
	StoreRetries        prometheus.Counter
	StoreConnectionsUse prometheus.Gauge

	// Upload metrics
	Uploads       *prometheus.CounterVec
	UploadLatency prometheus.Histogram

	// Draft queue metrics
	DraftsEnqueued *prometheus.CounterVec
	DraftsRemoved  prometheus.Counter

	// Sync metrics
	SyncDrafts   *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	// Submission metrics
	Submissions *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Sweeper metrics
	SweepRuns *prometheus.CounterVec
}

// New creates and registers all application metrics on reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StoreOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store executions by mode and outcome",
		}, []string{"mode", "status"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store executions including retries",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		StoreRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retry_attempts_total",
			Help:      "Total number of store retries after transient failures",
		}),
		StoreConnectionsUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "connections_in_use",
			Help:      "Connections currently checked out of the pool",
		}),

		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "uploads_total",
			Help:      "Total number of image uploads by folder and outcome",
		}, []string{"folder", "status"}),
		UploadLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "upload_duration_seconds",
			Help:      "Duration of image uploads",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		DraftsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drafts",
			Name:      "enqueued_total",
			Help:      "Total number of drafts queued by form type",
		}, []string{"form_type"}),
		DraftsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drafts",
			Name:      "removed_total",
			Help:      "Total number of drafts removed",
		}),

		SyncDrafts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drafts_total",
			Help:      "Drafts replayed by the sync coordinator by outcome",
		}, []string{"form_type", "result"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one sync pass over a user's queue",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submissions",
			Name:      "total",
			Help:      "Direct submissions by form type and outcome",
		}, []string{"form_type", "outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Background sync sweeps by outcome",
		}, []string{"result"}),
	}
}
