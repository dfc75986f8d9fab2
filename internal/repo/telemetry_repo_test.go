package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/domain"
)

func TestCreateReport_DefaultsAndPaging(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		r := &domain.Report{URLHash: "h", OriginalURL: "u", Description: "suspicious link", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := CreateReport(ctx, db, r); err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
		if r.ID == "" || r.Status != domain.ReportPending {
			t.Fatalf("defaults not applied: %+v", r)
		}
	}

	total, err := CountReports(ctx, db)
	if err != nil || total != 5 {
		t.Fatalf("count = %d, %v", total, err)
	}
	page, err := ListReportsPage(ctx, db, 0, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("page = %d, %v", len(page), err)
	}
	if !page[0].CreatedAt.After(page[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	got, err := GetReport(ctx, db, page[0].ID)
	if err != nil || got.ID != page[0].ID {
		t.Fatalf("get: %+v, %v", got, err)
	}
	if _, err := GetReport(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func loadSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func TestAppendChatMessage_CreatesSessionAndCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sess := domain.ChatSession{ID: "sess-1", UserID: "u1", Character: "ai-chan"}

	for _, role := range []string{domain.RoleUser, domain.RoleAssistant, domain.RoleUser} {
		if err := AppendChatMessage(ctx, db, sess, &domain.ChatMessage{Role: role, Content: "x"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := loadSession(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.MessageCount != 3 || got.Character != "ai-chan" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestAppendChatMessage_ConcurrentIncrements(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sess := domain.ChatSession{ID: "sess-c"}
	if err := AppendChatMessage(ctx, db, sess, &domain.ChatMessage{Role: domain.RoleUser, Content: "first"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- AppendChatMessage(ctx, db, sess, &domain.ChatMessage{Role: domain.RoleAssistant, Content: "y"})
		}()
	}
	wg.Wait()
	close(errs)
	ok := int64(1)
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	got, err := loadSession(ctx, db, "sess-c")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.MessageCount != ok {
		t.Fatalf("message_count = %d; want %d (successful appends)", got.MessageCount, ok)
	}
}

func TestAppendChatMessage_RejectsUnknownRole(t *testing.T) {
	db := newTestDB(t)
	err := AppendChatMessage(context.Background(), db, domain.ChatSession{ID: "s"}, &domain.ChatMessage{Role: "system", Content: "x"})
	if err == nil {
		t.Fatalf("expected CHECK violation")
	}
	// The session insert is rolled back with the message.
	if _, err := loadSession(context.Background(), db, "s"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestCreateAPIError(t *testing.T) {
	db := newTestDB(t)
	e := &domain.APIError{Service: "ai-service", Capability: "analyze", Message: "connection refused", StatusCode: 503}
	if err := CreateAPIError(context.Background(), db, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", e)
	}
}

func TestMarkReportForwarded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r := &domain.Report{URLHash: "h", OriginalURL: "u", Description: "desc long enough", SavedLocallyOnly: true}
	if err := CreateReport(ctx, db, r); err != nil {
		t.Fatal(err)
	}
	if err := MarkReportForwarded(ctx, db, r.ID, "up-1"); err != nil {
		t.Fatal(err)
	}
	got, err := GetReport(ctx, db, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SavedLocallyOnly || got.UpstreamReportID != "up-1" {
		t.Fatalf("not marked: %+v", got)
	}
}
