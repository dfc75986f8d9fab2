// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints: the error envelope, the mapping from service errors to HTTP
// statuses, and helpers that relay upstream payloads unchanged.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `error` code.
//   - `fail()` centralizes error logging and formatting; 5xx responses are
//     logged with request context.
//   - `respondError()` is the single place where service errors become HTTP:
//     validation → 400, degraded upstream → 503 with fallback, upstream
//     non-2xx → status and body passed through, anything else → 500.
//
// Example error response:
//
//	HTTP/1.1 503 Service Unavailable
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "error": "service_unavailable",
//	  "message": "AI service unavailable, report saved locally",
//	  "saved_locally": true,
//	  "report_id": "0b9a..."
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: correlation ID echoed from X-Request-ID.
//   - Code: stable, machine-readable string (see errors.go constants).
//   - Message: human-readable description, safe for display to users.
//   - Details: per-field validation problems.
//   - Fallback: the locally computed answer when the AI service was unavailable.
//   - SavedLocally/ReportID: set when a report was stored but not forwarded.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"error" example:"service_unavailable"`
	// Human-readable message (safe to show to users)
	Message      string                `json:"message" example:"AI service unavailable"`
	Details      []services.FieldError `json:"details,omitempty"`
	RetryAfter   int                   `json:"retryAfter,omitempty"`
	Fallback     any                   `json:"fallback,omitempty" swaggertype:"object"`
	SavedLocally bool                  `json:"saved_locally,omitempty"`
	ReportID     string                `json:"report_id,omitempty"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" example:"ok"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg})
}

// failWith fills in the request id, logs 5xx with the request-scoped logger,
// and writes resp.
func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// respondError maps a service error to the HTTP envelope. In production the
// message of an unexpected error is replaced with a generic one; the detail
// is logged either way.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var (
		verr *services.ValidationError
		derr *services.DegradedError
		uerr *upstream.Error
	)
	switch {
	case errors.As(err, &verr):
		failWith(c, http.StatusBadRequest, ErrorResponse{
			Code:    ErrCodeValidation,
			Message: "Validation failed",
			Details: verr.Fields,
		})

	case errors.As(err, &derr):
		resp := ErrorResponse{
			Code:     ErrCodeUnavailable,
			Message:  "AI service unavailable",
			Fallback: derr.Fallback,
		}
		if derr.SavedLocally {
			resp.Message = "AI service unavailable, report saved locally"
			resp.SavedLocally = true
			resp.ReportID = derr.ReportID
		}
		middleware.LoggerFrom(c).Warn().Err(derr.Err).Str("capability", derr.Capability).Msg("degraded response")
		failWith(c, http.StatusServiceUnavailable, resp)

	case errors.As(err, &uerr) && uerr.Kind == upstream.KindUpstream:
		ct := uerr.ContentType
		if ct == "" {
			ct = "application/json"
		}
		middleware.LoggerFrom(c).Warn().Int("upstream_status", uerr.Status).Str("capability", uerr.Capability).Msg("upstream error relayed")
		c.Abort()
		c.Data(uerr.Status, ct, uerr.Body)

	case upstream.IsUnavailable(err):
		middleware.LoggerFrom(c).Warn().Err(err).Msg("upstream unavailable")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "AI service unavailable")

	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("request failed")
		msg := err.Error()
		if h.production {
			msg = "Internal server error"
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, msg)
	}
}

// relay writes an upstream payload with the status chosen by the service.
func relay(c *gin.Context, res *services.Result) {
	ct := res.ContentType
	if ct == "" {
		ct = "application/json"
	}
	c.Data(res.Status, ct, res.Body)
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
