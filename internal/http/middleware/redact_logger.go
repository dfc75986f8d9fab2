// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the gateway access log. Bodies are
// never logged. Credentials are masked: bearer tokens, API keys, cookies and
// token-like query parameters. Emails, phone numbers, UUIDs and JWTs that
// appear elsewhere in the query string or headers are replaced with typed
// placeholders.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const redacted = "[REDACTED]"

var (
	// UUIDs go first so the loose phone pattern never eats their digit runs.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	jwtRE   = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	defaultMaskedHeaders = []string{"authorization", "cookie", "set-cookie", "x-api-key"}
	defaultMaskedParams  = []string{"token", "access_token", "api_key", "apikey", "key", "password"}
)

// RedactOptions extends the built-in masking.
//
// MaskHeaders and MaskQueryParams are matched case-insensitively and added to
// the defaults. QuietPaths are logged at debug level while they succeed, which
// keeps probes of /health and /metrics out of the info stream.
type RedactOptions struct {
	MaskHeaders     []string
	MaskQueryParams []string
	QuietPaths      []string
}

// RedactingLogger attaches a request-scoped logger (request_id, method,
// route, trace_id) and writes one access line per request once the chain
// returns. Level is error for 5xx or recorded gin errors, warn for 4xx and
// info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	headers := lowerSet(defaultMaskedHeaders, opts.MaskHeaders)
	params := lowerSet(defaultMaskedParams, opts.MaskQueryParams)
	quiet := make(map[string]struct{}, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		rid := requestIDFrom(c)

		lc := log.With().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("route", route)
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			lc = lc.Str("trace_id", sc.TraceID().String())
		}
		l := lc.Logger()
		attachLogger(c, &l)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		default:
			if _, ok := quiet[c.Request.URL.Path]; ok {
				ev = l.Debug()
			} else {
				ev = l.Info()
			}
		}

		ev.
			Str("user_id", c.GetString(ctxKeyUserID)).
			Str("client_ip", c.ClientIP()).
			Str("query", scrubQuery(c.Request.URL.RawQuery, params)).
			Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", scrubHeaders(c.Request.Header, headers)).
			Msg("http_request")
	}
}

// redactPII replaces identifiers that may appear in free-form values.
func redactPII(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = jwtRE.ReplaceAllString(s, "[REDACTED:jwt]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// scrubQuery masks the values of credential parameters and redacts PII in
// the rest. Parameter order is preserved.
func scrubQuery(raw string, masked map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	for i, p := range parts {
		k, _, hasValue := strings.Cut(p, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			name = k
		}
		if _, ok := masked[strings.ToLower(name)]; ok && hasValue {
			parts[i] = k + "=" + redacted
			continue
		}
		parts[i] = redactPII(p)
	}
	return strings.Join(parts, "&")
}

func scrubHeaders(h map[string][]string, masked map[string]struct{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := masked[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = redactPII(strings.Join(vv, ", "))
	}
	return out
}

func lowerSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, s := range list {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				set[s] = struct{}{}
			}
		}
	}
	return set
}
