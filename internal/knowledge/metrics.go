package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "knowledge_search_queries_total",
			Help:      "Total knowledge retrieval queries",
		},
		[]string{"status"}, // "ok", "embed_error", "search_error"
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "knowledge_search_duration_seconds",
			Help:      "Duration of knowledge retrieval including query embedding",
			Buckets:   prometheus.DefBuckets,
		},
	)

	searchResultsCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "knowledge_search_results_count",
			Help:      "Number of items returned per retrieval after floors",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)
)
