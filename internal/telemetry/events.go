package telemetry

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/repo"
)

// Event kinds, used as the metrics label.
const (
	KindDetection = "detection"
	KindChat      = "chat_message"
	KindAPIError  = "api_error"
	KindTips      = "tips_cache"
	KindIntel     = "intel_cache"
	KindScamURL   = "scam_url"
)

// Event is one deferred write.
type Event interface {
	Kind() string
	Write(ctx context.Context, db *gorm.DB) error
}

// DetectionEvent appends a detection row.
type DetectionEvent struct{ Detection domain.Detection }

func (DetectionEvent) Kind() string { return KindDetection }

func (e DetectionEvent) Write(ctx context.Context, db *gorm.DB) error {
	d := e.Detection
	return repo.CreateDetection(ctx, db, &d)
}

// ChatEvent appends a message and bumps its session counter.
type ChatEvent struct {
	Session domain.ChatSession
	Message domain.ChatMessage
}

func (ChatEvent) Kind() string { return KindChat }

func (e ChatEvent) Write(ctx context.Context, db *gorm.DB) error {
	m := e.Message
	return repo.AppendChatMessage(ctx, db, e.Session, &m)
}

// APIErrorEvent records a failed upstream call.
type APIErrorEvent struct{ Error domain.APIError }

func (APIErrorEvent) Kind() string { return KindAPIError }

func (e APIErrorEvent) Write(ctx context.Context, db *gorm.DB) error {
	a := e.Error
	return repo.CreateAPIError(ctx, db, &a)
}

// TipsCacheEvent refreshes the cached tips of a category.
type TipsCacheEvent struct {
	Category string
	Tips     []string
}

func (TipsCacheEvent) Kind() string { return KindTips }

func (e TipsCacheEvent) Write(ctx context.Context, db *gorm.DB) error {
	return repo.ReplaceTips(ctx, db, e.Category, e.Tips)
}

// IntelCacheEvent appends a threat-intelligence summary.
type IntelCacheEvent struct{ Summary []byte }

func (IntelCacheEvent) Kind() string { return KindIntel }

func (e IntelCacheEvent) Write(ctx context.Context, db *gorm.DB) error {
	return repo.SaveThreatIntel(ctx, db, e.Summary)
}

// ReportedURLEvent feeds a user report into the scam URL table.
type ReportedURLEvent struct{ URL string }

func (ReportedURLEvent) Kind() string { return KindScamURL }

func (e ReportedURLEvent) Write(ctx context.Context, db *gorm.DB) error {
	return repo.UpsertReportedURL(ctx, db, e.URL)
}
