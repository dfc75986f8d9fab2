package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each client's window in a sorted set scored by request
// time in milliseconds. One MULTI pipeline prunes, records and counts; a
// rejected request removes its own member again so it does not count.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. An empty prefix defaults to "ratelimit:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, length time.Duration, max int) (Result, error) {
	k := s.prefix + key
	nowMs := now.UnixMilli()
	cutoff := now.Add(-length).UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		p.ZAdd(ctx, k, redis.Z{Score: float64(nowMs), Member: member})
		card = p.ZCard(ctx, k)
		oldest = p.ZRangeWithScores(ctx, k, 0, 0)
		p.PExpire(ctx, k, length)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	count := int(card.Val())
	res := Result{Allowed: count <= max, Count: count}
	if !res.Allowed {
		if err := s.client.ZRem(ctx, k, member).Err(); err != nil {
			return Result{}, err
		}
		res.Count = count - 1
	}
	if zs := oldest.Val(); len(zs) > 0 {
		res.Oldest = time.UnixMilli(int64(zs[0].Score))
	}
	return res, nil
}
