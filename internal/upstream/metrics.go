package upstream

import "github.com/prometheus/client_golang/prometheus"

var (
	// reqs counts outbound calls by capability and outcome (ok|unavailable|upstream_error|internal).
	reqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of calls to the AI service.",
		},
		[]string{"capability", "outcome"},
	)

	// lat records call duration in seconds by capability.
	lat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of calls to the AI service in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"capability"},
	)
)

func init() {
	prometheus.MustRegister(reqs, lat)
}
