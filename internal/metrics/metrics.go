// Package metrics provides Prometheus metrics for the monitoring pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "otwatch"

var (
	// CyclesTotal counts monitoring cycles by final status.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of monitoring cycles",
		},
		[]string{"status"},
	)

	// CycleDuration measures how long a cycle takes end to end.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of monitoring cycles in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// RecordsFetched counts new records delivered by the feed.
	RecordsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Total number of new vulnerability records fetched",
		},
	)

	// FetchFailures counts feed requests that failed.
	FetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Total number of failed feed fetches",
		},
	)

	// OracleCalls counts classification outcomes.
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Classification outcomes (skipped, rejected, confirmed, fallback)",
		},
		[]string{"result"},
	)

	// ThreatsAdded counts threats newly added to the store.
	ThreatsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_added_total",
			Help:      "Total number of threats added to the store",
		},
	)

	// ThreatsStored tracks the size of the threat store.
	ThreatsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threats_stored",
			Help:      "Number of threats currently in the store",
		},
	)
)

// RecordCycle records a finished cycle.
func RecordCycle(status string, seconds float64) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(seconds)
}

// RecordFetch records the outcome of a feed fetch.
func RecordFetch(records int, err error) {
	if err != nil {
		FetchFailures.Inc()
		return
	}
	RecordsFetched.Add(float64(records))
}

// RecordOracle records one classification outcome.
func RecordOracle(result string) {
	OracleCalls.WithLabelValues(result).Inc()
}

// RecordThreats records newly added threats and the resulting store size.
func RecordThreats(added, stored int) {
	ThreatsAdded.Add(float64(added))
	ThreatsStored.Set(float64(stored))
}
