// Package httpapi wires the HTTP transport (Gin) to the gateway handlers and
// middleware. It centralizes cross-cutting concerns such as tracing,
// correlation IDs, logging/redaction, panic recovery, metrics, compression,
// CORS, security headers, authentication, idempotency and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all dependencies injected
//   - The global IP window runs before auth; the AI window after it so it
//     can key on the user
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/phishguard-gateway/docs" // registers the swagger spec
	"github.com/tbourn/phishguard-gateway/internal/config"
	"github.com/tbourn/phishguard-gateway/internal/fallback"
	"github.com/tbourn/phishguard-gateway/internal/http/handlers"
	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/ratelimit"
	"github.com/tbourn/phishguard-gateway/internal/repo"
)

// jsonBodyLimit caps non-multipart request bodies.
const jsonBodyLimit = 1 << 20

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Handlers *handlers.Handlers
	Tokens   middleware.TokenVerifier

	// GlobalLimiter guards every API route; AILimiter additionally guards
	// the routes proxied to the AI service.
	GlobalLimiter *ratelimit.Limiter
	AILimiter     *ratelimit.Limiter

	// Idempotency reports whether a report key was already completed.
	// Nil disables replay detection.
	Idempotency middleware.IdempotencyLookup
}

// RepoIdempotencyLookup adapts repo.GetIdempotency to the middleware lookup.
// A missing or expired record is a miss, not an error.
func RepoIdempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec != nil, nil
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Engine-level middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with header/query scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (multipart bodies get the upload cap)
//  6. Metrics (+ /metrics endpoint)
//  7. Gzip (voice downloads excluded)
//  8. CORS and security headers
//
// Route-level order is global limiter → auth → AI limiter. Report submission
// resolves the optional identity and idempotency key first so replays can
// bypass both windows; optional auth never rejects.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		QuietPaths: []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body size limit
	r.Use(limitBody(jsonBodyLimit, cfg.Upload.MaxBytes+jsonBodyLimit))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/voice/`})))

	// 8) CORS posture (allow all if none configured)
	useCORS(r, cfg.CORS.AllowedOrigins)

	// Security headers (HSTS only when enabled and request is HTTPS);
	// token-bearing auth responses are never cached.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:        cfg.Security.EnableHSTS,
		HSTSMaxAge:        cfg.Security.HSTSMaxAge,
		EnablePolicy:      true,
		NoStorePrefixes:   []string{"/auth", strings.TrimRight(cfg.APIBasePath, "/") + "/auth"},
		CSPExemptPrefixes: []string{"/swagger"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := deps.Handlers
	v := deps.Tokens

	// Liveness
	r.GET("/health", h.Liveness)

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	global := middleware.RateLimit(deps.GlobalLimiter, middleware.KeyByIP())
	ai := middleware.RateLimit(deps.AILimiter, middleware.KeyByUserOrIP())

	// Auth is reachable both at the root and under the API base path.
	registerAuth(r.Group("/auth"), h, v, global)
	api := groupWithPrefix(r, cfg.APIBasePath)
	if base := strings.TrimRight(cfg.APIBasePath, "/"); base != "" {
		registerAuth(api.Group("/auth"), h, v, global)
	}

	// PhishGuard variant
	pg := api.Group("/phishguard")
	{
		pg.POST("/report",
			middleware.OptionalAuth(v),
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: "report", MaxLen: 200}, deps.Idempotency),
			global, ai, h.Report)

		limited := pg.Group("", global, middleware.OptionalAuth(v))
		limited.POST("/analyze", ai, h.Analyze)
		limited.GET("/tips", ai, h.Tips)
		limited.POST("/chat", ai, h.Chat)
		limited.GET("/intelligence", ai, h.Intelligence)
		limited.GET("/health", ai, h.Health)
		limited.GET("/stats", middleware.AdminOnly(v), ai, h.Stats)
		limited.GET("/reports", middleware.ModeratorOrAdmin(v), ai, h.ListReports)
	}

	// Anime variant
	anime := api.Group("/anime", global)
	{
		public := anime.Group("", middleware.OptionalAuth(v), ai)
		public.GET("/ai-chan/greeting", h.Greeting(fallback.CharacterAIChan))
		public.GET("/haru/greeting", h.Greeting(fallback.CharacterHaru))
		public.GET("/voice/:filename", h.VoiceFile)
		public.POST("/chat", h.AnimeChat)

		private := anime.Group("", middleware.RequireAuth(v), ai)
		private.POST("/ai-chan/analyze", h.AnalyzeVision)
		private.POST("/haru/help", h.Help)
		private.POST("/combined/analyze", h.CombinedAnalyze)
		private.POST("/voice/generate", h.GenerateVoice)
	}
}

func registerAuth(g *gin.RouterGroup, h *handlers.Handlers, v middleware.TokenVerifier, global gin.HandlerFunc) {
	g.POST("/register", global, h.Register)
	g.POST("/login", global, h.Login)
	g.GET("/me", global, middleware.RequireAuth(v), h.Me)
}

func useCORS(r *gin.Engine, origins []string) {
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", middleware.HeaderIdempotencyKey}
	expose := []string{"X-Request-ID", "Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", middleware.HeaderIdempotentReplayed}

	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     headers,
			ExposeHeaders:    expose,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     methods,
		AllowHeaders:     headers,
		ExposeHeaders:    expose,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody caps request bodies with http.MaxBytesReader: multipart uploads
// get multipartMax, everything else jsonMax. Requests exceeding the cap make
// downstream body reads fail with *http.MaxBytesError.
func limitBody(jsonMax, multipartMax int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := jsonMax
		if strings.HasPrefix(strings.ToLower(c.ContentType()), "multipart/") {
			limit = multipartMax
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
