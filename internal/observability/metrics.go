// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Fetch metrics
	FetchesTotal          *prometheus.CounterVec
	FetchDuration         *prometheus.HistogramVec
	StaleResultsDiscarded *prometheus.CounterVec

	// View metrics
	StakedPoolCount      prometheus.Gauge
	TotalStakedFiatValue prometheus.Gauge

	// Watch metrics
	HeadsReceived prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gauge_staking_view"
	}

	return &Metrics{
		// Fetch metrics
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of source fetches by source and outcome",
		}, []string{"source", "outcome"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Source fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		StaleResultsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "stale_results_discarded_total",
			Help:      "Total number of fetch results discarded because their key was superseded",
		}, []string{"source"}),

		// View metrics
		StakedPoolCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "staked_pool_count",
			Help:      "Number of pools the account currently has staked shares in",
		}),
		TotalStakedFiatValue: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "total_staked_fiat_value",
			Help:      "Approximate fiat value of all staked positions",
		}),

		// Watch metrics
		HeadsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "heads_received_total",
			Help:      "Total number of new block heads received by the watcher",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetch records the outcome and duration of a source fetch.
func RecordFetch(source string, err error, seconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	DefaultMetrics.FetchesTotal.WithLabelValues(source, outcome).Inc()
	DefaultMetrics.FetchDuration.WithLabelValues(source).Observe(seconds)
}

// RecordStaleDiscard records a fetch result dropped because a newer
// fetch superseded its key.
func RecordStaleDiscard(source string) {
	DefaultMetrics.StaleResultsDiscarded.WithLabelValues(source).Inc()
}

// UpdateStakedView updates the staked view gauges.
func UpdateStakedView(poolCount int, totalFiat float64) {
	DefaultMetrics.StakedPoolCount.Set(float64(poolCount))
	DefaultMetrics.TotalStakedFiatValue.Set(totalFiat)
}

// RecordHeadReceived increments the block heads received counter.
func RecordHeadReceived() {
	DefaultMetrics.HeadsReceived.Inc()
}
