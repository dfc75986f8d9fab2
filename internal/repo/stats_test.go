package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/phishguard-gateway/internal/domain"
)

func TestTelemetryStats_CountError_NoTables(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrator().DropTable(&domain.ScamURL{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := TelemetryStats(context.Background(), db, time.Now()); err == nil {
		t.Fatalf("expected error due to missing scam_urls table")
	}
}

func TestTelemetryStats_Aggregates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := SeedScamURLs(ctx, db, DefaultScamSeeds); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// One inactive row must not be counted.
	db.Create(&domain.ScamURL{URLHash: "inactive", OriginalURL: "x", Domain: "x", ThreatType: ThreatScam, Source: "lottery", FirstSeen: now, LastSeen: now})
	db.Model(&domain.ScamURL{}).Where("url_hash = ?", "inactive").Update("is_active", false)

	_ = CreateDetection(ctx, db, &domain.Detection{URLHash: "h", OriginalURL: "u", ThreatLevel: "low", Source: domain.SourceUpstream})
	_ = CreateDetection(ctx, db, &domain.Detection{URLHash: "h", OriginalURL: "u", ThreatLevel: "low", Source: domain.SourceFallback})
	_ = CreateDetection(ctx, db, &domain.Detection{URLHash: "h", OriginalURL: "u", ThreatLevel: "low", Source: domain.SourceUpstream, CreatedAt: now.Add(-48 * time.Hour)})
	_ = CreateReport(ctx, db, &domain.Report{URLHash: "h", OriginalURL: "u", Description: "a scam site"})
	_ = AppendChatMessage(ctx, db, domain.ChatSession{ID: "s1"}, &domain.ChatMessage{Role: domain.RoleUser, Content: "hi"})
	_ = CreateAPIError(ctx, db, &domain.APIError{Service: "ai", Capability: "chat", Message: "refused"})

	st, err := TelemetryStats(ctx, db, now.Add(time.Second))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalScamURLs != int64(len(DefaultScamSeeds)) {
		t.Fatalf("TotalScamURLs = %d; want %d", st.TotalScamURLs, len(DefaultScamSeeds))
	}
	if st.BySource["kbz_bank"] != 2 || st.BySource["paypal"] != 1 {
		t.Fatalf("BySource unexpected: %#v", st.BySource)
	}
	if st.RecentDetections24h != 2 || st.FallbackDetections != 1 {
		t.Fatalf("detections unexpected: %+v", st)
	}
	if st.PendingUserReports != 1 || st.ChatSessions != 1 || st.ChatMessages != 1 || st.APIErrors24h != 1 {
		t.Fatalf("counts unexpected: %+v", st)
	}
}
