package repo

import (
	"context"
	"errors"
	"testing"
)

func TestReplaceTips_AndLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := ReplaceTips(ctx, db, "general", []string{"a", "b", "c"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := ReplaceTips(ctx, db, "general", []string{"d", "e"}); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	if err := ReplaceTips(ctx, db, "banking", nil); err != nil {
		t.Fatalf("empty replace: %v", err)
	}

	got, err := LatestTips(ctx, db, "general", 10)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 || got[0].Content != "d" || got[1].Content != "e" {
		t.Fatalf("unexpected tips: %+v", got)
	}
	none, err := LatestTips(ctx, db, "banking", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no banking tips, got %v, %v", none, err)
	}
}

func TestThreatIntel_LatestWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := LatestThreatIntel(ctx, db); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty cache, got %v", err)
	}
	_ = SaveThreatIntel(ctx, db, []byte(`{"v":1}`))
	_ = SaveThreatIntel(ctx, db, []byte(`{"v":2}`))

	got, err := LatestThreatIntel(ctx, db)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if string(got.Summary) != `{"v":2}` {
		t.Fatalf("unexpected summary %s", got.Summary)
	}
}
