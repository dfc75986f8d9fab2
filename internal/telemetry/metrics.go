package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	// events counts sink events by kind and result (written|failed|dropped).
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_total",
			Help: "Telemetry events by kind and result.",
		},
		[]string{"kind", "result"},
	)

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_queue_depth",
		Help: "Events waiting to be written.",
	})
)

func init() {
	prometheus.MustRegister(events, queueDepth)
}
