package services

import "github.com/prometheus/client_golang/prometheus"

// fallbacks counts degraded answers served per capability.
var fallbacks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fallback_responses_total",
		Help: "Fallback responses served while the AI service was unavailable.",
	},
	[]string{"capability"},
)

func init() {
	prometheus.MustRegister(fallbacks)
}
