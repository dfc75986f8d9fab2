package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/phishguard-gateway/internal/auth"
	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/repo"
	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
	"github.com/tbourn/phishguard-gateway/internal/users"
	"github.com/tbourn/phishguard-gateway/internal/utils"
)

// ---------- stubs ----------

type stubAuth struct {
	register func(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error)
	login    func(ctx context.Context, email, password string) (*services.AuthResult, error)
	me       func(ctx context.Context, userID string) (*users.User, error)
}

func (s stubAuth) Register(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error) {
	return s.register(ctx, in)
}
func (s stubAuth) Login(ctx context.Context, email, password string) (*services.AuthResult, error) {
	return s.login(ctx, email, password)
}
func (s stubAuth) Me(ctx context.Context, userID string) (*users.User, error) {
	return s.me(ctx, userID)
}

type stubPG struct {
	analyze func(ctx context.Context, in services.AnalyzeInput) (*services.Result, error)
	report  func(ctx context.Context, in services.ReportInput) (*services.ReportResult, error)
	tips    func(ctx context.Context, category, bearer string) (*services.Result, error)
	chat    func(ctx context.Context, in services.ChatInput) (*services.Result, error)
	intel   func(ctx context.Context, bearer string) (*services.Result, error)
	health  func(ctx context.Context) services.UpstreamHealth
	stats   func(ctx context.Context) (*repo.Stats, error)
	reports func(ctx context.Context, p utils.Page) ([]domain.Report, int64, error)
}

func (s stubPG) Analyze(ctx context.Context, in services.AnalyzeInput) (*services.Result, error) {
	return s.analyze(ctx, in)
}
func (s stubPG) Report(ctx context.Context, in services.ReportInput) (*services.ReportResult, error) {
	return s.report(ctx, in)
}
func (s stubPG) Tips(ctx context.Context, category, bearer string) (*services.Result, error) {
	return s.tips(ctx, category, bearer)
}
func (s stubPG) Chat(ctx context.Context, in services.ChatInput) (*services.Result, error) {
	return s.chat(ctx, in)
}
func (s stubPG) Intelligence(ctx context.Context, bearer string) (*services.Result, error) {
	return s.intel(ctx, bearer)
}
func (s stubPG) Health(ctx context.Context) services.UpstreamHealth { return s.health(ctx) }
func (s stubPG) Stats(ctx context.Context) (*repo.Stats, error)     { return s.stats(ctx) }
func (s stubPG) ReportsPage(ctx context.Context, p utils.Page) ([]domain.Report, int64, error) {
	return s.reports(ctx, p)
}

type stubAnime struct {
	greeting func(ctx context.Context, character, bearer string) (*services.Result, error)
	vision   func(ctx context.Context, in services.VisionInput) (*services.Result, error)
	help     func(ctx context.Context, in services.HelpInput) (*services.Result, error)
	combined func(ctx context.Context, in services.CombinedInput) (*services.Result, error)
	voice    func(ctx context.Context, in services.VoiceInput) (*services.Result, error)
	file     func(ctx context.Context, filename, bearer string) (*upstream.Stream, error)
}

func (s stubAnime) Greeting(ctx context.Context, character, bearer string) (*services.Result, error) {
	return s.greeting(ctx, character, bearer)
}
func (s stubAnime) AnalyzeVision(ctx context.Context, in services.VisionInput) (*services.Result, error) {
	return s.vision(ctx, in)
}
func (s stubAnime) Help(ctx context.Context, in services.HelpInput) (*services.Result, error) {
	return s.help(ctx, in)
}
func (s stubAnime) CombinedAnalyze(ctx context.Context, in services.CombinedInput) (*services.Result, error) {
	return s.combined(ctx, in)
}
func (s stubAnime) GenerateVoice(ctx context.Context, in services.VoiceInput) (*services.Result, error) {
	return s.voice(ctx, in)
}
func (s stubAnime) VoiceFile(ctx context.Context, filename, bearer string) (*upstream.Stream, error) {
	return s.file(ctx, filename, bearer)
}

// ---------- plumbing ----------

var testTokens = auth.NewTokenService("handlers-test-secret-0123", time.Hour, "phishguard-test")

func bearerFor(t *testing.T, id, role string) string {
	t.Helper()
	tok, err := testTokens.Issue(id, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return "Bearer " + tok
}

// newEngine returns a router with request ids and optional auth installed.
func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.OptionalAuth(testTokens))
	return r
}

func jsonResult(status int, body string) *services.Result {
	return &services.Result{Status: status, Body: []byte(body), ContentType: "application/json"}
}

func doJSON(r http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return m
}
