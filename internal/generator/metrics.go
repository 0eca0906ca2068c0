package generator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var generationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "concierge",
		Name:      "generator_responses_total",
		Help:      "Generated responses by the path that produced them",
	},
	[]string{"tier"}, // "structured", "tool_call", "plain_text", "static"
)
