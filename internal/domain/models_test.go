package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func allModels() []any {
	return []any{
		&ScamURL{}, &Detection{}, &Report{}, &ChatSession{}, &ChatMessage{},
		&APIError{}, &SafetyTip{}, &ThreatIntel{}, &Idempotency{},
	}
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		ScamURL{}.TableName():     "scam_urls",
		Detection{}.TableName():   "detection_history",
		Report{}.TableName():      "user_reports",
		ChatSession{}.TableName(): "chat_sessions",
		ChatMessage{}.TableName(): "chat_messages",
		APIError{}.TableName():    "api_errors",
		SafetyTip{}.TableName():   "safety_tips",
		ThreatIntel{}.TableName(): "threat_intel",
		Idempotency{}.TableName(): "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range allModels() {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&ChatMessage{}, "idx_session_msgs") {
		t.Fatalf("expected index idx_session_msgs on chat_messages")
	}
	if !m.HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("expected unique index ux_user_scope_key on idempotency")
	}

	now := time.Now().UTC()
	if err := db.Create(&ChatSession{ID: "s1", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert session: %v", err)
	}
	msgs := []ChatMessage{
		{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "hi", CreatedAt: now},
		{ID: "m2", SessionID: "s1", Role: RoleAssistant, Content: "hello", CreatedAt: now.Add(time.Second)},
	}
	if err := db.Create(&msgs).Error; err != nil {
		t.Fatalf("insert messages: %v", err)
	}

	// role check constraint
	bad := ChatMessage{ID: "m3", SessionID: "s1", Role: "system", Content: "x", CreatedAt: now}
	if err := db.Create(&bad).Error; err == nil {
		t.Fatalf("expected CHECK violation for role=system")
	}

	// deleting the session cascades to its messages
	if err := db.Delete(&ChatSession{}, "id = ?", "s1").Error; err != nil {
		t.Fatalf("delete session: %v", err)
	}
	var n int64
	db.Model(&ChatMessage{}).Where("session_id = ?", "s1").Count(&n)
	if n != 0 {
		t.Fatalf("expected cascade delete, %d messages remain", n)
	}
}

func TestScamURL_UniqueHash(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&ScamURL{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	row := ScamURL{URLHash: "h", OriginalURL: "a.tk", Domain: "a.tk", ThreatType: "phishing", Source: "seed", IsActive: true, FirstSeen: now, LastSeen: now}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := row
	dup.ID = 0
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique violation on url_hash")
	}
}

func TestDetection_JSONColumns(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Detection{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	d := Detection{
		ID: "d1", URLHash: "h", OriginalURL: "u", ThreatLevel: "low", Source: SourceFallback,
		DetectionMethods: datatypes.JSON(`["local_database"]`),
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.Create(&d).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got Detection
	if err := db.First(&got, "id = ?", "d1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if string(got.DetectionMethods) != `["local_database"]` {
		t.Fatalf("methods = %s", got.DetectionMethods)
	}
}

func TestIdempotency_UniqueUserScopeKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	rec := &Idempotency{ID: "i1", UserID: "u1", Scope: "report", Key: "k1", ResourceID: "r1", Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}
	dup := &Idempotency{ID: "i2", UserID: "u1", Scope: "report", Key: "k1", ResourceID: "r2", Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (user_id, scope, key)")
	}
	other := &Idempotency{ID: "i3", UserID: "u2", Scope: "report", Key: "k1", ResourceID: "r3", Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("different user should not collide: %v", err)
	}
}
