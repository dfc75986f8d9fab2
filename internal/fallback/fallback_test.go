package fallback

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repo.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	return db
}

func TestAnalyzeURL_Heuristic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cases := []struct {
		url        string
		level      string
		suspicious bool
	}{
		{"https://login-example.com", ThreatMedium, true},
		{"https://my.SECURE-pay.test/path", ThreatMedium, true},
		{"https://example.com", ThreatLow, false},
		{"https://example.com/login?next=account", ThreatLow, false},
		{"bank.example.org", ThreatMedium, true},
	}
	for _, tc := range cases {
		a, err := AnalyzeURL(ctx, db, tc.url)
		if err != nil {
			t.Fatalf("%s: unexpected err %v", tc.url, err)
		}
		if a.ThreatLevel != tc.level || a.IsSuspicious != tc.suspicious {
			t.Fatalf("%s: got level=%s suspicious=%v", tc.url, a.ThreatLevel, a.IsSuspicious)
		}
		if a.Confidence != HeuristicConfidence || !a.Fallback || !strings.Contains(a.Message, "using fallback analysis") {
			t.Fatalf("%s: degraded marker missing: %+v", tc.url, a)
		}
	}
}

func TestAnalyzeURL_ScamTableHit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := repo.SeedScamURLs(ctx, db, repo.DefaultScamSeeds); err != nil {
		t.Fatalf("seed: %v", err)
	}

	a, err := AnalyzeURL(ctx, db, "  HTTPS://facebook-login-secure.com/ ")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.ThreatLevel != ThreatHigh || a.Confidence != repo.SeedConfidence || !a.IsSuspicious {
		t.Fatalf("expected stored verdict, got %+v", a)
	}
	if a.ThreatType != repo.ThreatPhishing || a.DetectionMethods[0] != "local_database" {
		t.Fatalf("unexpected metadata: %+v", a)
	}
}

func TestAnalyzeURL_NilDB(t *testing.T) {
	a, err := AnalyzeURL(context.Background(), nil, "https://verify-me.test")
	if err != nil || a.ThreatLevel != ThreatMedium {
		t.Fatalf("got %+v, %v", a, err)
	}
}

func TestAnalyzeURL_LookupErrorStillAnswers(t *testing.T) {
	db := newTestDB(t)
	_ = repo.Close(db)

	a, err := AnalyzeURL(context.Background(), db, "https://example.com")
	if err == nil {
		t.Fatalf("expected lookup error on closed db")
	}
	if a == nil || a.ThreatLevel != ThreatLow {
		t.Fatalf("expected heuristic verdict, got %+v", a)
	}
}

func TestHostLooksSuspicious(t *testing.T) {
	if HostLooksSuspicious("") {
		t.Fatal("empty url should not be suspicious")
	}
	if !HostLooksSuspicious("http://ACCOUNT-update.io") {
		t.Fatal("upper-case keyword should match")
	}
}

func TestChat_FirstMatchWins(t *testing.T) {
	cases := []struct {
		msg, want string
	}{
		{"Help! is this PHISHING?", "help"},
		{"I think this is a phishing scam", "phishing"},
		{"is this a scam", "scam"},
		{"I reused my Password", "password"},
	}
	for _, tc := range cases {
		got := Chat(tc.msg)
		if got.Matched != tc.want || !got.Fallback || got.Response == "" {
			t.Fatalf("%q: got %+v", tc.msg, got)
		}
	}
}

func TestChat_Generic(t *testing.T) {
	got := Chat("what's the weather")
	if got.Matched != "" || !strings.Contains(got.Response, "technical difficulties") {
		t.Fatalf("got %+v", got)
	}
}

func TestChat_SuggestionsAreCopies(t *testing.T) {
	a := Chat("help")
	a.Suggestions[0] = "mutated"
	if Chat("help").Suggestions[0] == "mutated" {
		t.Fatal("canned table was mutated through a reply")
	}
}

func TestTips_BuiltinThenCache(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	res, err := Tips(ctx, db, "")
	if err != nil || res.Source != TipsFromBuiltin || len(res.Tips) != len(BuiltinTips) {
		t.Fatalf("builtin: %+v, %v", res, err)
	}

	if err := repo.ReplaceTips(ctx, db, "banking", []string{"a", "b"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	res, err = Tips(ctx, db, " Banking ")
	if err != nil || res.Source != TipsFromCache || len(res.Tips) != 2 || res.Tips[0] != "a" {
		t.Fatalf("cache: %+v, %v", res, err)
	}
	if res.Category != "banking" {
		t.Fatalf("category not normalized: %q", res.Category)
	}
}

func TestIntelligence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := Intelligence(ctx, db); err != ErrNoIntel {
		t.Fatalf("expected ErrNoIntel, got %v", err)
	}
	if err := repo.SaveThreatIntel(ctx, db, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveThreatIntel(ctx, db, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	res, err := Intelligence(ctx, db)
	if err != nil {
		t.Fatalf("intel: %v", err)
	}
	if string(res.Summary) != `{"v":2}` || !res.Fallback || res.CachedAt == "" {
		t.Fatalf("got %+v", res)
	}
	if _, err := Intelligence(ctx, nil); err != ErrNoIntel {
		t.Fatalf("nil db: %v", err)
	}
}

func TestGreetingFor(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	g, ok := GreetingFor(CharacterAIChan, now)
	if !ok || g.Character != "AI-chan" || g.Timestamp != "2025-01-02T03:04:05Z" || !g.Fallback {
		t.Fatalf("ai-chan: %+v", g)
	}
	g, ok = GreetingFor(CharacterHaru, now)
	if !ok || g.Character != "Haru" {
		t.Fatalf("haru: %+v", g)
	}
	if _, ok := GreetingFor("bob", now); ok {
		t.Fatal("unknown character accepted")
	}
	if !KnownCharacter("haru") || KnownCharacter("") {
		t.Fatal("KnownCharacter mismatch")
	}
}
