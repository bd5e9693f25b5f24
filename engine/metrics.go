package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics, registered on the default registry and exposed on
// /metrics by the HTTP API.
var (
	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enscope_turns_total",
		Help: "User turns processed across all sessions.",
	})

	extractionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enscope_extraction_failures_total",
		Help: "Extraction calls that failed after retries.",
	})

	degradedResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enscope_degraded_responses_total",
		Help: "Degraded-mode responses returned to users.",
	})

	questionsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enscope_questions_completed_total",
		Help: "Questions completed, by ENS domain.",
	}, []string{"domain"})

	answerVersionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enscope_answer_versions_total",
		Help: "Answer versions written, including tombstones.",
	})

	extractionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "enscope_extraction_seconds",
		Help:    "Latency of field extraction calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
	})

	catalogDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enscope_catalog_drift_total",
		Help: "On-disk catalog changes detected since boot.",
	})
)

// CatalogDrift is wired into the catalog watcher's Drift callback.
func CatalogDrift(paths []string) {
	catalogDriftTotal.Add(float64(len(paths)))
}
