package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	escalationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "escalations_created_total",
			Help:      "Clarification tickets created",
		},
		[]string{"question"}, // "generated", "fallback", "reused"
	)

	escalationsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "escalations_resolved_total",
			Help:      "Resolve calls by result",
		},
		[]string{"result"}, // "resolved", "already_resolved"
	)

	pendingAge = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "escalation_time_to_resolve_seconds",
			Help:      "Time from ticket creation to seller resolution",
			Buckets:   []float64{60, 300, 900, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600},
		},
	)
)
