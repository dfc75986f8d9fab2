// Package repo implements the telemetry persistence layer, backed by GORM.
// This file provides repository functions for the ScamURL table: the seed
// loaded at startup, the lookup the fallback analysis performs, and the
// upsert that a user report triggers.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/utils"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Threat types stored on ScamURL rows.
const (
	ThreatPhishing     = "phishing"
	ThreatScam         = "scam"
	ThreatMalware      = "malware"
	ThreatUserReported = "user_reported"
)

// Confidence values assigned to seeded and user-reported URLs.
const (
	SeedConfidence     = 0.9
	ReportedConfidence = 0.7
)

// ScamSeed is one entry of the built-in scam URL table.
type ScamSeed struct {
	URL        string
	ThreatType string
	Source     string
	Tags       []string
}

// DefaultScamSeeds is the table loaded when SEED_SCAM_URLS is enabled.
var DefaultScamSeeds = []ScamSeed{
	// Myanmar-specific scams
	{"https://kbz-verify-account.secure-banking.cf", ThreatPhishing, "kbz_bank", []string{"myanmar", "bank", "kbz"}},
	{"https://myanmar-lottery-winner.com", ThreatScam, "lottery", []string{"myanmar", "lottery", "fake"}},
	{"https://kbz-bank-secure-login.tk", ThreatPhishing, "kbz_bank", []string{"myanmar", "bank", "kbz"}},
	{"https://myanmar-inheritance-claim.ml", ThreatScam, "inheritance", []string{"myanmar", "inheritance", "fake"}},
	{"https://police-myanmar-court-case.cf", ThreatScam, "police", []string{"myanmar", "police", "court"}},

	// Brand impersonation
	{"https://facebook-login-secure.com", ThreatPhishing, "facebook", []string{"social", "login", "fake"}},
	{"https://google-account-verify.tk", ThreatPhishing, "google", []string{"google", "account", "fake"}},
	{"https://paypal-secure-login.ml", ThreatPhishing, "paypal", []string{"payment", "paypal", "fake"}},
	{"https://amazon-account-verify.cf", ThreatPhishing, "amazon", []string{"shopping", "amazon", "fake"}},

	// Malware distribution
	{"https://free-software-download.tk", ThreatMalware, "software", []string{"malware", "fake_software"}},
	{"https://cracked-games-free.ml", ThreatMalware, "games", []string{"malware", "piracy", "fake"}},
	{"https://adult-content-free.cf", ThreatMalware, "adult", []string{"malware", "adult", "fake"}},
}

// SeedScamURLs inserts seeds that are not present yet (matched by URL hash).
// Existing rows are left untouched, so re-running the seed is a no-op.
func SeedScamURLs(ctx context.Context, db *gorm.DB, seeds []ScamSeed) error {
	if len(seeds) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.ScamURL, 0, len(seeds))
	for _, s := range seeds {
		tags, err := json.Marshal(s.Tags)
		if err != nil {
			return err
		}
		rows = append(rows, domain.ScamURL{
			URLHash:     utils.HashURL(s.URL),
			OriginalURL: s.URL,
			Domain:      utils.Hostname(s.URL),
			ThreatType:  s.ThreatType,
			Confidence:  SeedConfidence,
			Source:      s.Source,
			Tags:        datatypes.JSON(tags),
			ReportCount: 1,
			IsActive:    true,
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url_hash"}}, DoNothing: true}).
		Create(&rows).Error
}

// FindActiveScamURL returns the active row for urlHash and bumps its
// last_seen and report_count. It returns ErrNotFound when absent.
func FindActiveScamURL(ctx context.Context, db *gorm.DB, urlHash string) (*domain.ScamURL, error) {
	var row domain.ScamURL
	err := db.WithContext(ctx).
		Where("url_hash = ? AND is_active = ?", urlHash, true).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&domain.ScamURL{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"last_seen":    now,
			"report_count": gorm.Expr("report_count + 1"),
		}).Error; err != nil {
		return nil, err
	}
	row.LastSeen = now
	row.ReportCount++
	return &row, nil
}

// UpsertReportedURL records rawURL as user_reported when it is unknown, and
// increments report_count otherwise. Both steps share one transaction.
func UpsertReportedURL(ctx context.Context, db *gorm.DB, rawURL string) error {
	hash := utils.HashURL(rawURL)
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row domain.ScamURL
		err := tx.Where("url_hash = ?", hash).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&domain.ScamURL{
				URLHash:     hash,
				OriginalURL: rawURL,
				Domain:      utils.Hostname(rawURL),
				ThreatType:  ThreatUserReported,
				Confidence:  ReportedConfidence,
				Source:      "user_report",
				ReportCount: 1,
				IsActive:    true,
				FirstSeen:   now,
				LastSeen:    now,
			}).Error
		case err != nil:
			return err
		}
		return tx.Model(&domain.ScamURL{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"last_seen":    now,
				"report_count": gorm.Expr("report_count + 1"),
			}).Error
	})
}
