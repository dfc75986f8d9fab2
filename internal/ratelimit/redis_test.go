package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLimiter_RedisStore_SlidingWindow(t *testing.T) {
	_, client := newMiniRedis(t)
	exerciseWindow(t, NewRedisStore(client, "rl:"))
}

func TestRedisStore_KeysAndExpiry(t *testing.T) {
	mr, client := newMiniRedis(t)
	s := NewRedisStore(client, "")
	now := time.Now()

	res, err := s.Hit(context.Background(), "ai:1.2.3.4", now, 5*time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)

	assert.True(t, mr.Exists("ratelimit:ai:1.2.3.4"))
	assert.Equal(t, 5*time.Minute, mr.TTL("ratelimit:ai:1.2.3.4"))

	// Rejected hits leave the set size unchanged.
	_, _ = s.Hit(context.Background(), "ai:1.2.3.4", now, 5*time.Minute, 2)
	res, err = s.Hit(context.Background(), "ai:1.2.3.4", now, 5*time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	members, err := mr.ZMembers("ratelimit:ai:1.2.3.4")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRedisStore_ErrorWhenServerGone(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedisStore(client, "")
	mr.Close()

	_, err = s.Hit(context.Background(), "k", time.Now(), time.Minute, 1)
	assert.Error(t, err)
}

func TestDial(t *testing.T) {
	mr, _ := newMiniRedis(t)
	c, err := Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = c.Close()

	_, err = Dial(context.Background(), "", "", 0)
	assert.Error(t, err)
}
