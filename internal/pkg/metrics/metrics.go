package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilePassDuration covers one full fetch + recompute pass.
	ReconcilePassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_pass_duration_seconds",
			Help:    "Duration of a reconciliation pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"outcome"}, // applied, stale, failed
	)

	StalePassesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_stale_passes_total",
			Help: "Reconciliation passes discarded because a newer pass superseded them",
		},
	)

	StoreFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_store_fetch_failures_total",
			Help: "Entity store fetches that failed during reconciliation",
		},
		[]string{"part"},
	)

	// SkippedRecords counts malformed records the first time a booking's pass
	// excludes them, not once per pass.
	SkippedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_skipped_records_total",
			Help: "Newly observed malformed records excluded from aggregation",
		},
	)

	CachedBookings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconcile_cached_bookings",
			Help: "Bookings with cached reconciliation state",
		},
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_feed_events_total",
			Help: "Change notifications received, by entity type",
		},
		[]string{"entity"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_failures_total",
			Help: "Notification messages that could not be handed to the broker",
		},
		[]string{"template"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

func RecordPass(outcome string, d time.Duration) {
	ReconcilePassDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func RecordFetchFailure(part string) {
	StoreFetchFailures.WithLabelValues(part).Inc()
}

func RecordSkipped(n int) {
	if n > 0 {
		SkippedRecords.Add(float64(n))
	}
}

func RecordFeedEvent(entity string) {
	FeedEvents.WithLabelValues(entity).Inc()
}

func RecordDispatchFailure(template string) {
	DispatchFailures.WithLabelValues(template).Inc()
}

func RecordHTTPRequest(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
