package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/phishguard-gateway/internal/domain"
)

func TestGetIdempotency_EmptyScopeOrKey_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty scope, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "report", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID: "expired", UserID: "u1", Scope: "report", Key: "k1",
		ResourceID: "r1", Status: 201, ExpiresAt: now.Add(-time.Minute),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := GetIdempotency(context.Background(), db, "u1", "report", "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be invisible, got %v", err)
	}
	if _, err := GetIdempotency(context.Background(), db, "u1", "report", "nope", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record should be ErrNotFound, got %v", err)
	}
}

func TestCreateIdempotency_ThenGet_AndDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "u1", "report", "k1", "r1", 201, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ResourceID != "r1" || !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "u1", "report", "k1", time.Now().UTC())
	if err != nil || got.ResourceID != "r1" || got.Status != 201 {
		t.Fatalf("get: %+v, %v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "u1", "report", "k1", "r2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	db.Create(&domain.Idempotency{ID: "a", UserID: "u", Scope: "report", Key: "1", ResourceID: "r", Status: 201, ExpiresAt: now.Add(-time.Second)})
	db.Create(&domain.Idempotency{ID: "b", UserID: "u", Scope: "report", Key: "2", ResourceID: "r", Status: 201, ExpiresAt: now.Add(time.Hour)})

	n, err := PurgeExpiredIdempotency(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v; want 1", n, err)
	}
}

func TestIsDuplicate(t *testing.T) {
	if IsDuplicate(nil) {
		t.Fatalf("nil is not a duplicate")
	}
	for _, msg := range []string{
		"UNIQUE constraint failed: idempotency.key",
		"constraint failed: UNIQUE constraint failed (2067)",
		`ERROR: duplicate key value violates unique constraint "users_email_key"`,
	} {
		if !IsDuplicate(errors.New(msg)) {
			t.Fatalf("expected duplicate for %q", msg)
		}
	}
	if IsDuplicate(errors.New("connection reset")) {
		t.Fatalf("unexpected duplicate")
	}
}
