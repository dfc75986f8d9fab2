// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts a sliding-window ratelimit.Limiter to Gin. Each limiter
// instance is installed separately, so the global and the AI limiters keep
// independent windows. Every response carries X-RateLimit-* headers;
// rejections are 429 with a Retry-After equal to the window length.
//
// Notes:
//   - When the window store fails (e.g. Redis down) the request is allowed
//     and the error is logged.
//   - Idempotent replays marked by IdempotencyValidator skip limiting.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/phishguard-gateway/internal/ratelimit"
)

var rlRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ratelimit_rejections_total",
		Help: "Requests rejected by a rate limiter.",
	},
	[]string{"limiter"},
)

func init() {
	prometheus.MustRegister(rlRejections)
}

// keyFunc selects the client identifier for a limiter window.
type keyFunc func(*gin.Context) string

// KeyByIP keys windows by client IP.
func KeyByIP() keyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// KeyByUserOrIP prefers the authenticated user id and falls back to the
// client IP. Only meaningful after an auth middleware ran.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(ctxKeyUserID); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// IsRateBypass reports whether IdempotencyValidator marked this request for
// rate-limit bypass (i.e., it is a replay of a previously completed request).
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// RateLimit enforces l per client.
//
// The middleware emits on rejection:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <window seconds>
//	{
//	  "request_id": "<uuid>",
//	  "error":      "rate_limited",
//	  "message":    "Rate limit exceeded",
//	  "retryAfter": <window seconds>
//	}
func RateLimit(l *ratelimit.Limiter, key keyFunc) gin.HandlerFunc {
	if key == nil {
		key = KeyByIP()
	}
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		d, err := l.Allow(c.Request.Context(), key(c))
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("limiter", l.Name()).Msg("rate limit store failed, allowing request")
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if d.Allowed {
			c.Next()
			return
		}

		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		rlRejections.WithLabelValues(l.Name()).Inc()
		h.Set("Retry-After", strconv.Itoa(secs))
		abortError(c, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded", gin.H{"retryAfter": secs})
	}
}
