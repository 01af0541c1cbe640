// Package metrics provides Prometheus metrics for cinder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cinder"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Ingest metrics
var (
	// IngestEntriesTotal counts accepted entries by ingestion mode.
	IngestEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "entries_total",
			Help:      "Total log entries accepted for processing",
		},
		[]string{"mode"}, // entry, raw, batch, tail
	)

	// IngestRejectedTotal counts entries rejected during validation.
	IngestRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Total log entries rejected during validation",
		},
	)

	// IngestSkippedLinesTotal counts blank lines skipped in batch input.
	IngestSkippedLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "skipped_lines_total",
			Help:      "Total blank batch lines skipped",
		},
	)

	// IngestSideErrors counts absorbed failures in post-store side calls.
	IngestSideErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "side_errors_total",
			Help:      "Total absorbed errors from cache, publish, and alerting side calls",
		},
		[]string{"target"}, // cache, publish, alerting
	)
)

// Cache metrics
var (
	// CacheHitsTotal counts cache reads that found the entry.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total cache hits",
		},
	)

	// CacheMissesTotal counts cache reads that fell through.
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total cache misses",
		},
	)

	// CacheErrors counts failed cache operations.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total cache operation errors",
		},
		[]string{"operation"},
	)
)

// Alerting metrics
var (
	// AlertsTriggeredTotal counts rule violations by rule key.
	AlertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_triggered_total",
			Help:      "Total alert rule violations recorded",
		},
		[]string{"rule"},
	)

	// SweepsTotal counts alert evaluation sweeps.
	SweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "sweeps_total",
			Help:      "Total alert rule sweeps executed",
		},
	)

	// NotificationsTotal counts dispatched alert notifications.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "notifications_total",
			Help:      "Total alert notifications dispatched",
		},
		[]string{"notifier", "result"}, // result: ok, error, dropped
	)
)

// Publish metrics
var (
	// PublishQueuePending tracks entries waiting to be published.
	PublishQueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "queue_pending",
			Help:      "Entries waiting in the publish queue",
		},
	)

	// PublishDroppedTotal counts entries dropped due to queue overflow.
	PublishDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "dropped_total",
			Help:      "Total entries dropped due to publish queue overflow",
		},
	)

	// PublishedTotal counts entries handed to the downstream publisher.
	PublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "published_total",
			Help:      "Total entries published downstream",
		},
	)

	// PublishErrors counts downstream publish failures.
	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Total downstream publish errors",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
