// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for gateway traffic. Labels
// stay bounded:
//
//   - method: HTTP verb
//   - route:  the registered Gin route (e.g. /api/anime/voice/:filename);
//     requests that matched nothing share "unmatched"
//   - status: numeric status code
//   - caller: "anonymous" or the authenticated role (USER, MODERATOR, ADMIN)
//
// Metrics runs before authentication, so the caller label is read after the
// chain returns.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "gateway"

	unmatchedRoute = "unmatched"
	anonymousRole  = "anonymous"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, status and caller role.",
		},
		[]string{"method", "route", "status", "caller"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, including time spent waiting on the AI service.",
			// proxied calls run up to the 30s upstream timeout
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_inflight",
			Help:      "Requests currently being served.",
		},
	)

	// Request sizes matter for screenshot and voice uploads; responses for
	// generated audio.
	sizeBuckets = []float64{
		512, 2 << 10, 8 << 10, 32 << 10, 128 << 10,
		512 << 10, 1 << 20, 4 << 20, 10 << 20,
	}

	httpReqSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_size_bytes",
			Help:      "Declared request body size (Content-Length).",
			Buckets:   sizeBuckets,
		},
		[]string{"method", "route"},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_response_size_bytes",
			Help:      "Response body size in bytes.",
			Buckets:   sizeBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpReqSize, httpRespSize)
}

// Metrics records request count, latency, in-flight gauge and body sizes.
// Mount it on the engine and expose promhttp.Handler() at /metrics.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status()), callerRole(c)).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

		if n := c.Request.ContentLength; n > 0 {
			httpReqSize.WithLabelValues(method, route).Observe(float64(n))
		}
		// -1 when nothing was written
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}

func callerRole(c *gin.Context) string {
	if UserID(c) == "" {
		return anonymousRole
	}
	switch r := Role(c); r {
	case RoleAdmin, RoleModerator:
		return r
	default:
		return "USER"
	}
}
