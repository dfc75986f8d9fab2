// Package bootstrap assembles the gateway from configuration: stores, rate
// limiter backend, upstream client, telemetry sink, services and the HTTP
// router. Run serves until SIGINT/SIGTERM and then drains in reverse order.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/auth"
	"github.com/tbourn/phishguard-gateway/internal/config"
	httpapi "github.com/tbourn/phishguard-gateway/internal/http"
	"github.com/tbourn/phishguard-gateway/internal/http/handlers"
	"github.com/tbourn/phishguard-gateway/internal/observability"
	"github.com/tbourn/phishguard-gateway/internal/ratelimit"
	"github.com/tbourn/phishguard-gateway/internal/repo"
	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/sysutil"
	"github.com/tbourn/phishguard-gateway/internal/telemetry"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
)

// idempotencyPurgeInterval is how often expired Idempotency-Key records are deleted.
const idempotencyPurgeInterval = time.Hour

// Gateway is a fully wired gateway that has not started serving yet.
type Gateway struct {
	Handler http.Handler

	cfg      config.Config
	db       *gorm.DB
	usersDB  *sql.DB
	redis    *redis.Client
	memStore *ratelimit.MemoryStore
	sink     *telemetry.Sink
}

// Run loads configuration, wires every component and serves until the
// process receives SIGINT or SIGTERM.
func Run(ctx context.Context, version string) error {
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		_ = godotenv.Load()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing did not shut down cleanly")
		}
	}()

	gw, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	gw.start(groupCtx, group)

	return waitForShutdown(signalCtx, groupCtx, cancel, group, cfg.ShutdownTimeout)
}

// New opens the stores and wires services and routes for cfg.
func New(ctx context.Context, cfg config.Config) (*Gateway, error) {
	gw := &Gateway{cfg: cfg}
	wired := false
	defer func() {
		if !wired {
			gw.Close()
		}
	}()

	db, err := openTelemetryStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw.db = db

	userRepo, usersDB, err := openCredentialStore(ctx, cfg.UsersDSN)
	if err != nil {
		return nil, err
	}
	gw.usersDB = usersDB

	store, err := gw.openRateStore(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Upload.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}

	gw.sink = telemetry.NewSink(gw.db, telemetry.Options{
		QueueSize:    cfg.Telemetry.QueueSize,
		Workers:      cfg.Telemetry.Workers,
		WriteTimeout: cfg.Telemetry.WriteTimeout,
	})

	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey,
		upstream.WithRateLimit(cfg.Upstream.RPS, cfg.Upstream.Burst),
		upstream.WithTracer(observability.Tracer("upstream")),
	)
	tokens := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.ExpiresIn, cfg.Auth.Issuer)

	authSvc := services.NewAuthService(userRepo, tokens, cfg.Auth.BcryptCost)
	pgSvc := services.NewPhishGuardService(gw.db, client, gw.sink)
	pgSvc.IdempotencyTTL = cfg.IdempotencyTTL
	animeSvc := services.NewAnimeService(pgSvc)

	h := handlers.New(authSvc, pgSvc, animeSvc, handlers.Options{
		Production:     cfg.IsProduction(),
		UploadDir:      cfg.Upload.Dir,
		UploadMaxBytes: cfg.Upload.MaxBytes,
		StartedAt:      time.Now(),
	})

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Handlers:      h,
		Tokens:        tokens,
		GlobalLimiter: ratelimit.New("global", store, cfg.RateLimit.Global.Window, cfg.RateLimit.Global.MaxRequests),
		AILimiter:     ratelimit.New("ai", store, cfg.RateLimit.AI.Window, cfg.RateLimit.AI.MaxRequests),
		Idempotency:   httpapi.RepoIdempotencyLookup(gw.db),
	}, cfg)
	gw.Handler = r

	log.Info().
		Str("env", cfg.Env).
		Str("upstream", client.BaseURL()).
		Bool("postgres_users", usersDB != nil).
		Bool("redis_ratelimit", gw.redis != nil).
		Msg("gateway wired")
	wired = true
	return gw, nil
}

// Close drains the telemetry sink and releases every store handle.
// It is safe on a partially built gateway.
func (gw *Gateway) Close() {
	if gw.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gw.drainTimeout())
		if err := gw.sink.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("telemetry sink did not drain")
		}
		cancel()
	}
	if gw.redis != nil {
		if err := gw.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close failed")
		}
	}
	if gw.usersDB != nil {
		if err := gw.usersDB.Close(); err != nil {
			log.Warn().Err(err).Msg("credential store close failed")
		}
	}
	if err := repo.Close(gw.db); err != nil {
		log.Warn().Err(err).Msg("telemetry store close failed")
	}
}

func (gw *Gateway) drainTimeout() time.Duration {
	if gw.cfg.ShutdownTimeout > 0 {
		return gw.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}

// start launches the HTTP server and background jobs on group.
func (gw *Gateway) start(ctx context.Context, group *errgroup.Group) {
	cfg := gw.cfg
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           gw.Handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	group.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		log.Info().Msg("http server stopped")
		return nil
	})

	if gw.memStore != nil {
		group.Go(func() error {
			gw.memStore.Run(ctx, cfg.RateLimit.SweepInterval)
			return nil
		})
	}
	group.Go(func() error {
		purgeIdempotency(ctx, gw.db, idempotencyPurgeInterval)
		return nil
	})
}

// waitForShutdown blocks until a signal arrives or a background job fails,
// then cancels the rest and waits for them within timeout.
func waitForShutdown(signalCtx, groupCtx context.Context, cancel context.CancelFunc, g *errgroup.Group, timeout time.Duration) error {
	select {
	case <-signalCtx.Done():
		log.Info().Msg("shutdown signal received, draining")
	case <-groupCtx.Done():
		log.Warn().Msg("background job stopped, shutting down")
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("shutdown finished with error")
			return err
		}
		log.Info().Msg("all services stopped")
		return nil
	case <-time.After(timeout + time.Second):
		return errors.New("shutdown timed out")
	}
}
