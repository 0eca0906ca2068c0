package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "llm_calls_total",
			Help:      "Total chat and embedding backend calls",
		},
		[]string{"provider", "op", "status"},
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "llm_duration_seconds",
			Help:      "Duration of backend calls including retries",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider", "op"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "llm_tokens_total",
			Help:      "Total tokens consumed by chat calls",
		},
		[]string{"provider", "direction"},
	)
)
