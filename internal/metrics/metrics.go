// Package metrics holds the Prometheus collectors shared by the search,
// ledger and ingestion paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultsearch"

var (
	// Searches counts blind-index searches.
	Searches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Number of blind-index searches executed.",
	})

	// SearchDuration observes end-to-end search latency.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Search latency including token lookup and field decryption.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// SearchResults observes the number of distinct records per search.
	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_results",
		Help:      "Distinct records returned per search.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// ChainAppends counts ledger blocks by action.
	ChainAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_appends_total",
		Help:      "Blocks appended to the integrity chain.",
	}, []string{"action"})

	// ChainVerifications counts verify runs by outcome.
	ChainVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_verifications_total",
		Help:      "Integrity chain verification runs.",
	}, []string{"status"})

	// IngestRows counts ingested rows by outcome (succeeded, failed).
	IngestRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_rows_total",
		Help:      "Rows processed by ingestion.",
	}, []string{"outcome"})

	// IngestJobs counts background ingestion jobs by final status.
	IngestJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_jobs_total",
		Help:      "Background ingestion jobs by final status.",
	}, []string{"status"})

	// RiskEscalations counts actors moving into a higher risk level
	// (WARNING, CRITICAL).
	RiskEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "risk_escalations_total",
		Help:      "Actors whose risk score crossed into a higher level.",
	}, []string{"level"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
