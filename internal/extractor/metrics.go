package extractor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "knowledge_extractions_total",
			Help:      "Knowledge extraction calls by outcome",
		},
		[]string{"status"}, // "ok", "fallback", "empty"
	)

	candidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "knowledge_candidates_total",
			Help:      "Extracted knowledge candidates by persistence result",
		},
		[]string{"result"}, // "stored", "duplicate", "batch_duplicate"
	)
)
