// Package repo implements the telemetry persistence layer, backed by GORM.
// This file provides the aggregate queries behind the admin stats endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/domain"
)

// Stats is the aggregate view of the telemetry store.
type Stats struct {
	TotalScamURLs       int64            `json:"total_scam_urls"`
	BySource            map[string]int64 `json:"by_source"`
	RecentDetections24h int64            `json:"recent_detections_24h"`
	FallbackDetections  int64            `json:"fallback_detections_24h"`
	PendingUserReports  int64            `json:"pending_user_reports"`
	ChatSessions        int64            `json:"chat_sessions"`
	ChatMessages        int64            `json:"chat_messages"`
	APIErrors24h        int64            `json:"api_errors_24h"`
}

// TelemetryStats computes Stats relative to now.
//
// Every figure is one lightweight query; the by-source breakdown only
// counts active scam URLs.
func TelemetryStats(ctx context.Context, db *gorm.DB, now time.Time) (*Stats, error) {
	q := db.WithContext(ctx)
	since := now.Add(-24 * time.Hour)
	st := &Stats{BySource: map[string]int64{}}

	if err := q.Model(&domain.ScamURL{}).Where("is_active = ?", true).Count(&st.TotalScamURLs).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Source string
		N      int64
	}
	if err := q.Model(&domain.ScamURL{}).
		Select("source, COUNT(*) AS n").
		Where("is_active = ?", true).
		Group("source").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		st.BySource[r.Source] = r.N
	}

	if err := q.Model(&domain.Detection{}).Where("created_at > ?", since).Count(&st.RecentDetections24h).Error; err != nil {
		return nil, err
	}
	if err := q.Model(&domain.Detection{}).
		Where("created_at > ? AND source = ?", since, domain.SourceFallback).
		Count(&st.FallbackDetections).Error; err != nil {
		return nil, err
	}
	if err := q.Model(&domain.Report{}).Where("status = ?", domain.ReportPending).Count(&st.PendingUserReports).Error; err != nil {
		return nil, err
	}
	if err := q.Model(&domain.ChatSession{}).Count(&st.ChatSessions).Error; err != nil {
		return nil, err
	}
	if err := q.Model(&domain.ChatMessage{}).Count(&st.ChatMessages).Error; err != nil {
		return nil, err
	}
	if err := q.Model(&domain.APIError{}).Where("created_at > ?", since).Count(&st.APIErrors24h).Error; err != nil {
		return nil, err
	}
	return st, nil
}
