package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	userID, scope, key string
	now                time.Time
}

// recordingLookup answers found for keys in hits and records every call.
func recordingLookup(calls *[]lookupCall, err error, hits ...string) IdempotencyLookup {
	return func(_ context.Context, userID, scope, key string, now time.Time) (bool, error) {
		*calls = append(*calls, lookupCall{userID, scope, key, now})
		if err != nil {
			return false, err
		}
		for _, h := range hits {
			if h == key {
				return true, nil
			}
		}
		return false, nil
	}
}

type idemResult struct {
	Key    string `json:"key"`
	HasKey bool   `json:"has_key"`
	Replay bool   `json:"replay"`
	Bypass bool   `json:"bypass"`
}

func idemEngine(opts IdempotencyOptions, lookup IdempotencyLookup, pre ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(pre...)
	r.Use(IdempotencyValidator(opts, lookup))
	echo := func(c *gin.Context) {
		k, ok := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, idemResult{Key: k, HasKey: ok, Replay: IsReplay(c), Bypass: IsRateBypass(c)})
	}
	r.POST("/report", echo)
	r.GET("/report", echo)
	return r
}

func sendKey(t *testing.T, r *gin.Engine, method, key string) (*httptest.ResponseRecorder, idemResult) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/report", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	var out idemResult
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return w, out
}

func TestIdempotencyValidator_NoHeader(t *testing.T) {
	var calls []lookupCall
	r := idemEngine(IdempotencyOptions{Scope: "report"}, recordingLookup(&calls, nil))

	w, got := sendKey(t, r, http.MethodPost, "")
	if w.Code != http.StatusOK || got.HasKey || got.Replay || got.Bypass {
		t.Fatalf("no header: code=%d result=%+v", w.Code, got)
	}
	if len(calls) != 0 {
		t.Fatalf("lookup called without a key: %v", calls)
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	r := idemEngine(IdempotencyOptions{Scope: "report", MaxLen: 8}, nil)

	for _, key := range []string{"has spaces", "123456789", "semi;colon", "quote\""} {
		w, _ := sendKey(t, r, http.MethodPost, key)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q -> %d", key, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if body["error"] != "bad_idempotency_key" || body["maxLength"] != float64(8) {
			t.Fatalf("unexpected body: %v", body)
		}
	}

	digits := idemEngine(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, nil)
	if w, _ := sendKey(t, digits, http.MethodPost, "abc123"); w.Code != http.StatusBadRequest {
		t.Fatalf("custom pattern not applied: %d", w.Code)
	}
	if w, got := sendKey(t, digits, http.MethodPost, "123"); w.Code != http.StatusOK || got.Key != "123" {
		t.Fatalf("custom pattern rejected a valid key: %d %+v", w.Code, got)
	}
}

func TestIdempotencyValidator_DefaultLength(t *testing.T) {
	r := idemEngine(IdempotencyOptions{}, nil)
	if w, _ := sendKey(t, r, http.MethodPost, strings.Repeat("k", defaultKeyLen)); w.Code != http.StatusOK {
		t.Fatalf("key at default max -> %d", w.Code)
	}
	if w, _ := sendKey(t, r, http.MethodPost, strings.Repeat("k", defaultKeyLen+1)); w.Code != http.StatusBadRequest {
		t.Fatalf("key over default max -> %d", w.Code)
	}
}

func TestIdempotencyValidator_AnonymousMissAndHit(t *testing.T) {
	var calls []lookupCall
	r := idemEngine(IdempotencyOptions{Scope: "report"}, recordingLookup(&calls, nil, "done-1"))

	_, miss := sendKey(t, r, http.MethodPost, "fresh-1")
	if !miss.HasKey || miss.Key != "fresh-1" || miss.Replay || miss.Bypass {
		t.Fatalf("miss: %+v", miss)
	}
	_, hit := sendKey(t, r, http.MethodPost, "done-1")
	if !hit.Replay || !hit.Bypass {
		t.Fatalf("hit: %+v", hit)
	}

	if len(calls) != 2 {
		t.Fatalf("lookup calls = %d", len(calls))
	}
	for _, call := range calls {
		if call.userID != anonymousOwner || call.scope != "report" || call.now.IsZero() || call.now.Location() != time.UTC {
			t.Fatalf("lookup args: %+v", call)
		}
	}
}

func TestIdempotencyValidator_KeysAreOwnedByUser(t *testing.T) {
	var calls []lookupCall
	withUser := func(c *gin.Context) { c.Set(ctxKeyUserID, "u9"); c.Next() }
	r := idemEngine(IdempotencyOptions{Scope: "report"}, recordingLookup(&calls, nil, "k-9"), withUser)

	if _, got := sendKey(t, r, http.MethodPost, "k-9"); !got.Replay {
		t.Fatalf("expected replay for u9: %+v", got)
	}
	if len(calls) != 1 || calls[0].userID != "u9" {
		t.Fatalf("lookup should see the authenticated owner: %+v", calls)
	}
}

func TestIdempotencyValidator_SafeMethodsSkipLookup(t *testing.T) {
	var calls []lookupCall
	r := idemEngine(IdempotencyOptions{Scope: "report"}, recordingLookup(&calls, nil, "done-1"))

	w, got := sendKey(t, r, http.MethodGet, "done-1")
	if w.Code != http.StatusOK || !got.HasKey || got.Replay {
		t.Fatalf("GET: code=%d result=%+v", w.Code, got)
	}
	if len(calls) != 0 {
		t.Fatalf("lookup ran for GET: %v", calls)
	}
}

func TestIdempotencyValidator_LookupErrorProceeds(t *testing.T) {
	buf := captureLogger(t)
	var calls []lookupCall
	r := idemEngine(IdempotencyOptions{Scope: "report"}, recordingLookup(&calls, errors.New("db down")))

	w, got := sendKey(t, r, http.MethodPost, "k-1")
	if w.Code != http.StatusOK || got.Replay || got.Bypass || got.Key != "k-1" {
		t.Fatalf("lookup error: code=%d result=%+v", w.Code, got)
	}
	if !strings.Contains(buf.String(), "idempotency lookup failed") {
		t.Fatalf("lookup failure not logged: %s", buf.String())
	}
}

func TestIdempotencyAccessors_Empty(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if k, ok := GetIdempotencyKey(c); ok || k != "" {
		t.Fatalf("unexpected key %q", k)
	}
	if IsReplay(c) || IsRateBypass(c) {
		t.Fatal("flags set on empty context")
	}
	c.Set(ctxKeyIdempotency, "not-a-state")
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatal("foreign value treated as state")
	}
	if userIDFromCtx(c) != anonymousOwner {
		t.Fatal("anonymous owner expected")
	}
}
