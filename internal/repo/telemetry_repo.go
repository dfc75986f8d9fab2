// Package repo implements the telemetry persistence layer, backed by GORM.
// This file holds the append-only writers for detections, reports, chat
// messages and upstream API errors, plus the read side used by the admin
// and moderator endpoints.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/phishguard-gateway/internal/domain"
)

// CreateDetection appends a detection row. ID and CreatedAt are filled when empty.
func CreateDetection(ctx context.Context, db *gorm.DB, d *domain.Detection) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(d).Error
}

// CreateReport appends a report row with status PENDING.
func CreateReport(ctx context.Context, db *gorm.DB, r *domain.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = domain.ReportPending
	}
	return db.WithContext(ctx).Create(r).Error
}

// GetReport fetches a single report by ID, or ErrNotFound.
func GetReport(ctx context.Context, db *gorm.DB, id string) (*domain.Report, error) {
	var r domain.Report
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountReports returns the number of stored reports.
func CountReports(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Report{}).Count(&total).Error
	return total, err
}

// ListReportsPage returns a page of reports, newest first. Use CountReports
// for pagination metadata.
func ListReportsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Report, error) {
	var out []domain.Report
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AppendChatMessage stores msg and atomically increments the message counter
// of its session, creating the session on first use.
func AppendChatMessage(ctx context.Context, db *gorm.DB, session domain.ChatSession, msg *domain.ChatMessage) error {
	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.SessionID = session.ID
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session.CreatedAt, session.UpdatedAt = now, now
		session.MessageCount = 0
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&session).Error; err != nil {
			return err
		}
		if err := tx.Omit("Session").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&domain.ChatSession{}).
			Where("id = ?", session.ID).
			Updates(map[string]any{
				"message_count": gorm.Expr("message_count + 1"),
				"updated_at":    now,
			}).Error
	})
}

// CreateAPIError appends an upstream failure event.
func CreateAPIError(ctx context.Context, db *gorm.DB, e *domain.APIError) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

// MarkReportForwarded records that the AI service accepted report id.
func MarkReportForwarded(ctx context.Context, db *gorm.DB, id, upstreamID string) error {
	return db.WithContext(ctx).Model(&domain.Report{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"saved_locally_only": false,
			"upstream_report_id": upstreamID,
		}).Error
}
