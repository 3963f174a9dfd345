// Package obsmetrics exposes Prometheus metrics for the cache engine and
// tracker, adapted from the teacher's monitoring/prometheus.go: a package
// of promauto vectors plus a thin MetricsCollector wrapping promhttp.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Entity store (C1) gauges.
	entityCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entity_count",
			Help: "Number of entities currently held in the primary store, by kind",
		},
		[]string{"kind"}, // student, profile, rule, session
	)

	// Derived index (C2) gauges.
	indexBucketCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_index_bucket_count",
			Help: "Number of non-empty buckets in a derived index",
		},
		[]string{"index"}, // sessions_by_email, sessions_by_profile, rules_by_scope_value
	)

	// Loader (C3) metrics.
	loaderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_loader_duration_milliseconds",
			Help:    "Time taken for each loader phase",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"phase"}, // students, profiles, rules, sessions, index_build
	)

	loaderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_loader_errors_total",
			Help: "Total loader phase failures",
		},
		[]string{"phase"},
	)

	// Change subscriber (C4) metrics.
	subscriberReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_subscriber_reconnects_total",
			Help: "Total LISTEN connection reconnect attempts",
		},
	)

	subscriberConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_subscriber_connected",
			Help: "Whether the change subscriber is currently connected (1) or not (0)",
		},
	)

	notificationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_notifications_received_total",
			Help: "Total change notifications received, by channel and operation",
		},
		[]string{"channel", "operation"},
	)

	notificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_notifications_dropped_total",
			Help: "Total change notifications dropped (invalid payload), by channel",
		},
		[]string{"channel"},
	)

	// Change handler (C5) latency.
	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_handler_duration_milliseconds",
			Help:    "Time taken to apply a single change notification",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"entity", "operation"},
	)

	// Resolver (C6) metrics.
	resolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cache_resolve_duration_microseconds",
			Help:    "Time taken to resolve active profiles for one email",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)

	resolveCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_resolve_calls_total",
			Help: "Total calls to ActiveProfilesForEmail",
		},
	)

	// Cleaner (C7) metrics.
	cleanerRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_cleaner_removals_total",
			Help: "Total entities removed by the cleaner, by kind",
		},
		[]string{"kind"}, // session, rule
	)

	// Tracker (C8/C9) metrics.
	trackerCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_tracker_count",
			Help: "Number of live trackers, by kind",
		},
		[]string{"kind"}, // session, rule
	)

	trackerRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_tracker_rotations_total",
			Help: "Total minute-rotation ticks processed across all trackers",
		},
	)

	aggregatePersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_aggregate_persisted_total",
			Help: "Total session aggregate writes, by outcome",
		},
		[]string{"outcome"}, // success, failure
	)
)

// MetricsCollector wraps promhttp for the /metrics endpoint.
type MetricsCollector struct{}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// Handler returns the HTTP handler for /metrics.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// SetEntityCount records the current size of one primary entity map.
func SetEntityCount(kind string, count int) {
	entityCount.WithLabelValues(kind).Set(float64(count))
}

// SetIndexBucketCount records the current bucket count of one derived index.
func SetIndexBucketCount(index string, count int) {
	indexBucketCount.WithLabelValues(index).Set(float64(count))
}

// RecordLoaderPhase records the duration of one loader phase and whether it failed.
func RecordLoaderPhase(phase string, durationMs float64, err error) {
	loaderDuration.WithLabelValues(phase).Observe(durationMs)
	if err != nil {
		loaderErrors.WithLabelValues(phase).Inc()
	}
}

// RecordSubscriberReconnect records one reconnect attempt.
func RecordSubscriberReconnect() {
	subscriberReconnects.Inc()
}

// SetSubscriberConnected records the subscriber's connection state.
func SetSubscriberConnected(connected bool) {
	if connected {
		subscriberConnected.Set(1)
	} else {
		subscriberConnected.Set(0)
	}
}

// RecordNotification records one change notification by channel/operation.
func RecordNotification(channel, operation string) {
	notificationsReceived.WithLabelValues(channel, operation).Inc()
}

// RecordNotificationDropped records one dropped (invalid) notification.
func RecordNotificationDropped(channel string) {
	notificationsDropped.WithLabelValues(channel).Inc()
}

// RecordHandlerDuration records how long applying one change took.
func RecordHandlerDuration(entity, operation string, durationMs float64) {
	handlerDuration.WithLabelValues(entity, operation).Observe(durationMs)
}

// RecordResolve records one ActiveProfilesForEmail call.
func RecordResolve(durationMicros float64) {
	resolveCalls.Inc()
	resolveDuration.Observe(durationMicros)
}

// RecordCleanerRemoval records one cleaner removal by entity kind.
func RecordCleanerRemoval(kind string, count int) {
	cleanerRemovals.WithLabelValues(kind).Add(float64(count))
}

// SetTrackerCount records the current number of live trackers by kind.
func SetTrackerCount(kind string, count int) {
	trackerCount.WithLabelValues(kind).Set(float64(count))
}

// RecordTrackerRotation records one rotation tick applied across all trackers.
func RecordTrackerRotation() {
	trackerRotations.Inc()
}

// RecordAggregatePersist records the outcome of one session aggregate write.
func RecordAggregatePersist(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	aggregatePersisted.WithLabelValues(outcome).Inc()
}
