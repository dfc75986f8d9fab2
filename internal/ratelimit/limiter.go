// Package ratelimit implements a per-client sliding-window request counter.
//
// A Limiter owns its window length and maximum; the window state lives in a
// Store. MemoryStore keeps timestamps in process memory and sweeps idle
// clients on an interval. RedisStore keeps one sorted set per client so
// several gateway instances share the same windows.
//
// On each Allow: timestamps older than now-window are pruned, then the
// request is rejected if the remaining count has reached the maximum;
// otherwise the current timestamp is recorded.
package ratelimit

import (
	"context"
	"time"
)

// Store persists sliding windows.
//
// Hit prunes entries of key older than now-window, and records now when the
// pruned count is below max. It reports whether now was recorded, the
// in-window count afterwards, and the oldest in-window timestamp (zero when
// the window is empty).
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Result, error)
}

// Result is what a Store reports for one Hit.
type Result struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

// Decision is the outcome of Limiter.Allow.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the hint returned with a rejection: the window length.
	RetryAfter time.Duration
	// ResetAt is when the oldest in-window request leaves the window.
	ResetAt time.Time
}

// Limiter is one sliding-window instance (e.g. "global" or "ai").
type Limiter struct {
	name   string
	store  Store
	window time.Duration
	max    int
	now    func() time.Time
}

// New builds a limiter. Keys are namespaced by name so instances may share a Store.
func New(name string, store Store, window time.Duration, max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{name: name, store: store, window: window, max: max, now: time.Now}
}

// Name returns the limiter's name.
func (l *Limiter) Name() string { return l.name }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Max returns the configured request maximum.
func (l *Limiter) Max() int { return l.max }

// Allow checks clientID against the window and records the request when allowed.
// A Store error is returned with an allowing Decision; the caller decides
// whether to fail open.
func (l *Limiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	now := l.now()
	res, err := l.store.Hit(ctx, l.name+":"+clientID, now, l.window, l.max)
	if err != nil {
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max}, err
	}
	d := Decision{
		Allowed:   res.Allowed,
		Limit:     l.max,
		Remaining: l.max - res.Count,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !res.Oldest.IsZero() {
		d.ResetAt = res.Oldest.Add(l.window)
	} else {
		d.ResetAt = now.Add(l.window)
	}
	if !d.Allowed {
		d.RetryAfter = l.window
	}
	return d, nil
}
