package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/telemetry"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
)

// upstreamService names the AI service in API error telemetry.
const upstreamService = "ai-service"

// Upstream is the subset of *upstream.Client the services call.
type Upstream interface {
	Do(ctx context.Context, call upstream.Call) (*upstream.Response, error)
	Stream(ctx context.Context, call upstream.Call) (*upstream.Stream, error)
}

// EventSink accepts detached telemetry writes.
type EventSink interface {
	Submit(e telemetry.Event) bool
}

// discardSink is used when no sink is configured.
type discardSink struct{}

func (discardSink) Submit(telemetry.Event) bool { return false }

// Result is a successful proxied answer ready to be written to the client.
type Result struct {
	Status      int
	Body        []byte
	ContentType string
	Latency     time.Duration
}

// augment adds routing metadata to an upstream JSON payload. Non-object
// payloads are wrapped under "data".
func augment(body []byte, fields map[string]any) []byte {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		wrapped := []byte(`{}`)
		if gjson.ValidBytes(body) && len(body) > 0 {
			wrapped, _ = sjson.SetRawBytes(wrapped, "data", body)
		} else if len(body) > 0 {
			wrapped, _ = sjson.SetBytes(wrapped, "data", string(body))
		}
		body = wrapped
	}
	for k, v := range fields {
		if out, err := sjson.SetBytes(body, k, v); err == nil {
			body = out
		}
	}
	return body
}

// recordFailure submits an api_errors row for a failed upstream call.
func recordFailure(sink EventSink, capability string, err error) {
	ev := domain.APIError{
		Service:    upstreamService,
		Capability: capability,
		Message:    err.Error(),
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		ev.StatusCode = ue.Status
	}
	sink.Submit(telemetry.APIErrorEvent{Error: ev})
}

// degrade wraps err with a fallback payload and counts it.
func degrade(capability string, err error, fb any) error {
	fallbacks.WithLabelValues(capability).Inc()
	return &DegradedError{Capability: capability, Err: err, Fallback: fb}
}

// loggerFrom returns the request-scoped logger when one was attached to ctx.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func ms(d time.Duration) int64 { return d.Milliseconds() }
