package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/config"
	"github.com/tbourn/phishguard-gateway/internal/ratelimit"
	"github.com/tbourn/phishguard-gateway/internal/repo"
	"github.com/tbourn/phishguard-gateway/internal/users"
)

// openTelemetryStore opens the telemetry database and loads the built-in
// scam URL table when enabled.
func openTelemetryStore(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.TelemetryDSN)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: %w", err)
	}
	if cfg.SeedScamURLs {
		if err := repo.SeedScamURLs(ctx, db, repo.DefaultScamSeeds); err != nil {
			_ = repo.Close(db)
			return nil, fmt.Errorf("seed scam urls: %w", err)
		}
	}
	return db, nil
}

// openCredentialStore returns the PostgreSQL-backed user repository for dsn,
// or an in-memory one when dsn is empty. The *sql.DB is nil in the latter case.
func openCredentialStore(ctx context.Context, dsn string) (users.Repository, *sql.DB, error) {
	if dsn == "" {
		log.Warn().Msg("USERS_DB_DSN not set, accounts are kept in memory and lost on restart")
		return users.NewMemoryRepository(), nil, nil
	}
	db, err := users.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("credential store: %w", err)
	}
	return users.NewPostgresRepository(db), db, nil
}

// openRateStore selects the shared Redis window store when an address is
// configured, otherwise a process-local store swept in the background.
func (gw *Gateway) openRateStore(ctx context.Context, rc config.RedisConfig) (ratelimit.Store, error) {
	if rc.Addr == "" {
		gw.memStore = ratelimit.NewMemoryStore()
		return gw.memStore, nil
	}
	client, err := ratelimit.Dial(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	gw.redis = client
	return ratelimit.NewRedisStore(client, rc.Prefix), nil
}

// purgeIdempotency deletes expired Idempotency-Key records every interval
// until ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys purged")
			}
		}
	}
}
