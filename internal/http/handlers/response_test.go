package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// capture logs from LoggerFrom(c)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// simulate RequestID + request-scoped logger
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})

	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, "internal_error", "kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != "internal_error" || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}

	// ensure something was logged at error level
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_Fail_404_And_OkHelper(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Next()
	})
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, "not_found", "nope")
	})
	r.GET("/ok", func(c *gin.Context) {
		ok(c, http.StatusCreated, gin.H{"ok": true, "n": 1})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json 404: %v", err)
	}
	if er.RequestID != "rid-404" || er.Code != "not_found" || er.Message != "nope" {
		t.Fatalf("unexpected 404 body: %+v", er)
	}
	if strings.Contains(w.Body.String(), "fallback") || strings.Contains(w.Body.String(), "details") {
		t.Fatalf("optional fields should be omitted: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}
}

func Test_respondError_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		production bool
		err        error
		wantStatus int
		wantCT     string
		check      func(t *testing.T, body map[string]any, raw string)
	}{
		{
			name: "validation",
			err: &services.ValidationError{Fields: []services.FieldError{
				{Field: "url", Message: "url is required"},
			}},
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any, _ string) {
				if body["error"] != ErrCodeValidation {
					t.Fatalf("error=%v", body["error"])
				}
				details, _ := body["details"].([]any)
				if len(details) != 1 {
					t.Fatalf("details=%v", body["details"])
				}
			},
		},
		{
			name: "degraded with fallback",
			err: &services.DegradedError{
				Capability: "analyze",
				Err:        &upstream.Error{Kind: upstream.KindUnavailable, Err: errors.New("refused")},
				Fallback:   map[string]any{"threat_level": "low", "fallback": true},
			},
			wantStatus: http.StatusServiceUnavailable,
			check: func(t *testing.T, body map[string]any, _ string) {
				if body["error"] != ErrCodeUnavailable {
					t.Fatalf("error=%v", body["error"])
				}
				fb, _ := body["fallback"].(map[string]any)
				if fb["threat_level"] != "low" {
					t.Fatalf("fallback=%v", body["fallback"])
				}
			},
		},
		{
			name: "degraded report saved locally",
			err: &services.DegradedError{
				Capability:   "report",
				Err:          errors.New("refused"),
				SavedLocally: true,
				ReportID:     "rep-1",
			},
			wantStatus: http.StatusServiceUnavailable,
			check: func(t *testing.T, body map[string]any, _ string) {
				if body["saved_locally"] != true || body["report_id"] != "rep-1" {
					t.Fatalf("body=%v", body)
				}
			},
		},
		{
			name: "upstream status passes through",
			err: &upstream.Error{
				Kind:        upstream.KindUpstream,
				Capability:  "analyze",
				Status:      http.StatusUnprocessableEntity,
				Body:        []byte(`{"detail":"bad url"}`),
				ContentType: "application/problem+json",
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCT:     "application/problem+json",
			check: func(t *testing.T, _ map[string]any, raw string) {
				if raw != `{"detail":"bad url"}` {
					t.Fatalf("body=%s", raw)
				}
			},
		},
		{
			name:       "unavailable without fallback",
			err:        fmt.Errorf("wrapped: %w", &upstream.Error{Kind: upstream.KindUnavailable, Err: errors.New("dns")}),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "internal in development shows detail",
			err:        errors.New("db exploded"),
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any, _ string) {
				if body["message"] != "db exploded" {
					t.Fatalf("message=%v", body["message"])
				}
			},
		},
		{
			name:       "internal in production hides detail",
			production: true,
			err:        errors.New("db exploded"),
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any, _ string) {
				if body["message"] != "Internal server error" {
					t.Fatalf("message=%v", body["message"])
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := New(nil, nil, nil, Options{Production: tc.production})
			r := gin.New()
			r.GET("/x", func(c *gin.Context) { h.respondError(c, tc.err) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			if w.Code != tc.wantStatus {
				t.Fatalf("status=%d want %d (%s)", w.Code, tc.wantStatus, w.Body.String())
			}
			if tc.wantCT != "" && w.Header().Get("Content-Type") != tc.wantCT {
				t.Fatalf("content-type=%q", w.Header().Get("Content-Type"))
			}
			var body map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if tc.check != nil {
				tc.check(t, body, w.Body.String())
			}
		})
	}
}
