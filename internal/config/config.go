// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes gateway settings such
// as server timeouts, logging, token signing, data stores, the upstream AI
// service, rate limiting windows, upload limits, and observability.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // copied from APP_ENV
}

// AuthConfig holds session token and password hashing settings.
type AuthConfig struct {
	Secret     string        // JWT_SECRET
	ExpiresIn  time.Duration // JWT_EXPIRES_IN
	Issuer     string        // JWT_ISSUER
	BcryptCost int           // BCRYPT_COST
}

// UpstreamConfig describes the external AI service.
type UpstreamConfig struct {
	BaseURL string  // AI_SERVICE_URL
	APIKey  string  // AI_SERVICE_API_KEY
	RPS     float64 // UPSTREAM_RPS (0 = unlimited)
	Burst   int     // UPSTREAM_BURST
}

// WindowConfig is one sliding-window limiter instance.
type WindowConfig struct {
	Window      time.Duration
	MaxRequests int
}

// RateLimitConfig holds both limiter instances and their shared backend.
type RateLimitConfig struct {
	Global        WindowConfig  // RATE_LIMIT_WINDOW_MS / RATE_LIMIT_MAX_REQUESTS
	AI            WindowConfig  // AI_RATE_LIMIT_WINDOW_MS / AI_RATE_LIMIT_MAX_REQUESTS
	SweepInterval time.Duration // RATE_LIMIT_SWEEP_INTERVAL
}

// RedisConfig selects the shared window store. Empty Addr keeps windows in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// UploadConfig bounds multipart uploads.
type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

// TelemetryConfig sizes the detached telemetry sink.
type TelemetryConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // must exceed the longest upstream timeout
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int      // bytes
	GinMode           string   // debug|release|test
	TrustedProxies    []string // TRUSTED_PROXIES (CSV); empty trusts none
	Env               string   // development|production|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Stores
	UsersDSN     string // empty selects the in-memory credential store
	TelemetryDSN string // postgres:// DSN or SQLite path
	SeedScamURLs bool

	Auth      AuthConfig
	Upstream  UpstreamConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Upload    UploadConfig
	Telemetry TelemetryConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// IsProduction reports whether detailed error messages must be hidden from clients.
func (c Config) IsProduction() bool { return c.Env == "production" }

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		TrustedProxies:    splitCSV(getenv("TRUSTED_PROXIES", "")),
		Env:               strings.ToLower(getenv("APP_ENV", "development")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// Stores
		UsersDSN:     getenv("USERS_DB_DSN", ""),
		TelemetryDSN: getenv("TELEMETRY_DB_DSN", "phishguard.db"),
		SeedScamURLs: getbool("SEED_SCAM_URLS", true),

		Auth: AuthConfig{
			Secret:     getenv("JWT_SECRET", ""),
			ExpiresIn:  getdur("JWT_EXPIRES_IN", 24*time.Hour),
			Issuer:     getenv("JWT_ISSUER", "phishguard-gateway"),
			BcryptCost: getint("BCRYPT_COST", 10),
		},

		Upstream: UpstreamConfig{
			BaseURL: strings.TrimRight(getenv("AI_SERVICE_URL", "http://localhost:8000"), "/"),
			APIKey:  getenv("AI_SERVICE_API_KEY", ""),
			RPS:     getfloat("UPSTREAM_RPS", 0),
			Burst:   getint("UPSTREAM_BURST", 20),
		},

		RateLimit: RateLimitConfig{
			Global: WindowConfig{
				Window:      getms("RATE_LIMIT_WINDOW_MS", 15*time.Minute),
				MaxRequests: getint("RATE_LIMIT_MAX_REQUESTS", 100),
			},
			AI: WindowConfig{
				Window:      getms("AI_RATE_LIMIT_WINDOW_MS", 5*time.Minute),
				MaxRequests: getint("AI_RATE_LIMIT_MAX_REQUESTS", 50),
			},
			SweepInterval: getdur("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
			Prefix:   getenv("REDIS_PREFIX", "ratelimit:"),
		},

		Upload: UploadConfig{
			Dir:      getenv("UPLOAD_DIR", filepath.Join(os.TempDir(), "phishguard-uploads")),
			MaxBytes: int64(getint("UPLOAD_MAX_BYTES", 10<<20)),
		},

		Telemetry: TelemetryConfig{
			QueueSize:    getint("TELEMETRY_QUEUE_SIZE", 1024),
			Workers:      getint("TELEMETRY_WORKERS", 2),
			WriteTimeout: getdur("TELEMETRY_WRITE_TIMEOUT", 5*time.Second),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "phishguard-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	cfg.OTEL.Environment = cfg.Env
	// Development runs get a throwaway signing secret so the binary starts
	// without setup; every other environment must provide one.
	if cfg.Auth.Secret == "" && cfg.Env == "development" {
		cfg.Auth.Secret = "dev-only-insecure-secret-change-me"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.Auth.Secret == "" {
		return cfg, errors.New("JWT_SECRET must be set")
	}
	if cfg.Env == "production" && len(cfg.Auth.Secret) < 16 {
		return cfg, errors.New("JWT_SECRET must be at least 16 bytes in production")
	}
	if cfg.Auth.ExpiresIn <= 0 {
		return cfg, errors.New("JWT_EXPIRES_IN must be > 0")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return cfg, errors.New("BCRYPT_COST must be between 4 and 31")
	}
	if strings.TrimSpace(cfg.TelemetryDSN) == "" {
		return cfg, errors.New("TELEMETRY_DB_DSN must not be empty")
	}
	if !strings.HasPrefix(cfg.Upstream.BaseURL, "http://") && !strings.HasPrefix(cfg.Upstream.BaseURL, "https://") {
		return cfg, errors.New("AI_SERVICE_URL must be an http(s) URL")
	}
	if cfg.Upstream.RPS < 0 {
		return cfg, errors.New("UPSTREAM_RPS must be >= 0")
	}
	if cfg.Upstream.Burst < 1 {
		return cfg, errors.New("UPSTREAM_BURST must be >= 1")
	}
	for _, w := range []WindowConfig{cfg.RateLimit.Global, cfg.RateLimit.AI} {
		if w.Window <= 0 {
			return cfg, errors.New("rate limit windows must be > 0")
		}
		if w.MaxRequests < 1 {
			return cfg, errors.New("rate limit max requests must be >= 1")
		}
	}
	if cfg.RateLimit.SweepInterval <= 0 {
		return cfg, errors.New("RATE_LIMIT_SWEEP_INTERVAL must be > 0")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return cfg, errors.New("UPLOAD_MAX_BYTES must be > 0")
	}
	if cfg.Telemetry.QueueSize < 1 || cfg.Telemetry.Workers < 1 {
		return cfg, errors.New("TELEMETRY_QUEUE_SIZE and TELEMETRY_WORKERS must be >= 1")
	}
	if cfg.Telemetry.WriteTimeout <= 0 {
		return cfg, errors.New("TELEMETRY_WRITE_TIMEOUT must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getms reads a plain millisecond count (the *_WINDOW_MS variables).
func getms(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
