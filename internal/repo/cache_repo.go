// Package repo implements the telemetry persistence layer, backed by GORM.
// This file caches the latest successful tips and threat-intelligence
// answers so the fallbacks can serve them while the AI service is down.
package repo

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/domain"
)

// ReplaceTips swaps the cached tips of category for tips in one transaction.
func ReplaceTips(ctx context.Context, db *gorm.DB, category string, tips []string) error {
	if len(tips) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category = ?", category).Delete(&domain.SafetyTip{}).Error; err != nil {
			return err
		}
		rows := make([]domain.SafetyTip, 0, len(tips))
		for _, t := range tips {
			rows = append(rows, domain.SafetyTip{Category: category, Content: t, CreatedAt: now})
		}
		return tx.Create(&rows).Error
	})
}

// LatestTips returns up to limit cached tips for category, in insertion order.
func LatestTips(ctx context.Context, db *gorm.DB, category string, limit int) ([]domain.SafetyTip, error) {
	var out []domain.SafetyTip
	err := db.WithContext(ctx).
		Where("category = ?", category).
		Order("id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SaveThreatIntel appends a threat-intelligence summary.
func SaveThreatIntel(ctx context.Context, db *gorm.DB, summary []byte) error {
	return db.WithContext(ctx).Create(&domain.ThreatIntel{
		Summary:   datatypes.JSON(summary),
		CreatedAt: time.Now().UTC(),
	}).Error
}

// LatestThreatIntel returns the most recent summary, or ErrNotFound.
func LatestThreatIntel(ctx context.Context, db *gorm.DB) (*domain.ThreatIntel, error) {
	var ti domain.ThreatIntel
	if err := db.WithContext(ctx).Order("id desc").First(&ti).Error; err != nil {
		return nil, err
	}
	return &ti, nil
}
