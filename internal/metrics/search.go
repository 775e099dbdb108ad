// Package metrics exposes Prometheus metrics for the search engine and its
// HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relic_search"

// Search outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeDisabled    = "disabled"
)

// Search engine metrics.
var (
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of search requests by outcome",
		},
		[]string{"index", "outcome"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"index"},
	)

	CorrectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Total number of query terms corrected",
		},
		[]string{"index"},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Total number of full index builds by status",
		},
		[]string{"index", "status"},
	)

	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Full index build duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"index"},
	)

	IndexedDocuments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_documents",
			Help:      "Documents in the live index after the last build",
		},
		[]string{"index"},
	)

	DocumentUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_updates_total",
			Help:      "Single-document index updates by operation",
		},
		[]string{"index", "op"}, // "upsert" / "delete"
	)

	ExtractionWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_warnings_total",
			Help:      "Records skipped or degraded during extraction by warning type",
		},
		[]string{"index", "type"},
	)
)

func init() {
	prometheus.MustRegister(
		SearchesTotal,
		SearchDuration,
		CorrectionsTotal,
		BuildsTotal,
		BuildDuration,
		IndexedDocuments,
		DocumentUpdatesTotal,
		ExtractionWarningsTotal,
	)
}

// ObserveSearch records one search.
func ObserveSearch(index, outcome string, d time.Duration, corrections int) {
	SearchesTotal.WithLabelValues(index, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeEmpty {
		SearchDuration.WithLabelValues(index).Observe(d.Seconds())
	}
	if corrections > 0 {
		CorrectionsTotal.WithLabelValues(index).Add(float64(corrections))
	}
}

// ObserveBuild records one full build. documents is ignored on failure.
func ObserveBuild(index string, d time.Duration, documents int, err error) {
	if err != nil {
		BuildsTotal.WithLabelValues(index, "error").Inc()
		return
	}
	BuildsTotal.WithLabelValues(index, "ok").Inc()
	BuildDuration.WithLabelValues(index).Observe(d.Seconds())
	IndexedDocuments.WithLabelValues(index).Set(float64(documents))
}
