// Package metrics provides Prometheus metrics for teamsync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "teamsync"
)

// Cache metrics
var (
	// CacheCommitsTotal counts committed cache batches.
	CacheCommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "commits_total",
			Help:      "Total batches committed to the local cache",
		},
	)

	// CacheCommitErrors counts failed cache batches.
	CacheCommitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "commit_errors_total",
			Help:      "Total failed local cache batches",
		},
	)

	// CacheCommitDuration tracks batch commit latency.
	CacheCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "commit_duration_seconds",
			Help:      "Local cache batch commit latency in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// CacheReadErrors counts reads that failed and were reported as empty.
	CacheReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "read_errors_total",
			Help:      "Total local cache reads that failed",
		},
		[]string{"collection"},
	)
)

// Sync metrics
var (
	// SyncFetchesTotal counts remote fetch passes by result.
	SyncFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetches_total",
			Help:      "Total remote fetch passes",
		},
		[]string{"collection", "result"}, // success, error, superseded
	)

	// SyncFetchDuration tracks full fetch pass latency.
	SyncFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetch_duration_seconds",
			Help:      "Remote fetch pass latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collection"},
	)

	// SyncRowsMerged counts remote rows merged into the cache.
	SyncRowsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rows_merged_total",
			Help:      "Total remote rows merged into the local cache",
		},
		[]string{"collection", "source"}, // fetch, push, page
	)

	// SyncPushEvents counts push events received.
	SyncPushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "push_events_total",
			Help:      "Total push events received",
		},
		[]string{"collection", "kind"},
	)

	// SyncResubscribes counts push subscriptions re-established after a failure.
	SyncResubscribes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "resubscribes_total",
			Help:      "Total push subscriptions re-established",
		},
		[]string{"collection"},
	)

	// SyncSessionsActive tracks running sync sessions.
	SyncSessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "sessions_active",
			Help:      "Number of running sync sessions",
		},
		[]string{"collection"},
	)

	// PageLoadsTotal counts load-older requests by result.
	PageLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "page_loads_total",
			Help:      "Total load-older page requests",
		},
		[]string{"collection", "result"}, // more, exhausted, error
	)
)

// Mutation metrics
var (
	// MutationsTotal counts mutations by command and outcome.
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "total",
			Help:      "Total mutations by outcome",
		},
		[]string{"command", "result"}, // rejected, applied, confirmed, failed
	)

	// MutationsInFlight tracks remote writes awaiting a result.
	MutationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "in_flight",
			Help:      "Number of remote writes awaiting a result",
		},
	)
)

// Query metrics
var (
	// QueryObservers tracks open live queries.
	QueryObservers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "observers",
			Help:      "Number of open live queries",
		},
	)

	// QueryEmissions counts snapshots delivered to observers.
	QueryEmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "emissions_total",
			Help:      "Total snapshots delivered to live queries",
		},
		[]string{"collection"},
	)
)

// Remote metrics
var (
	// RemoteRequestsTotal counts gRPC remote requests handled by the server.
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Total remote requests handled",
		},
		[]string{"method", "code"},
	)

	// RemoteStreamsActive tracks active push streams.
	RemoteStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "streams_active",
			Help:      "Number of active push streams",
		},
	)
)

// Auth metrics
var (
	// AuthTokensValidated counts session token validations.
	AuthTokensValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_validated_total",
			Help:      "Total session token validations",
		},
		[]string{"result"}, // valid, invalid, expired
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
