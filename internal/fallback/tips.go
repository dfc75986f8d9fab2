package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/repo"
)

// BuiltinTips are served when nothing has been cached yet.
var BuiltinTips = []string{
	"Never click on links from unknown senders",
	"Check the URL carefully - look for misspellings",
	"Don't share personal information on suspicious websites",
	"Enable two-factor authentication on your accounts",
	"Keep your software and apps updated",
	"Be suspicious of urgent requests for money or information",
	"Verify bank communications directly with your bank",
	"Don't trust offers that seem too good to be true",
}

// Tip sources.
const (
	TipsFromCache   = "cache"
	TipsFromBuiltin = "builtin"
)

// maxCachedTips bounds how many cached rows a fallback returns.
const maxCachedTips = 20

// TipsResult is the fallback answer for the tips capability.
type TipsResult struct {
	Tips     []string `json:"tips"`
	Category string   `json:"category,omitempty"`
	Source   string   `json:"source"`
	Fallback bool     `json:"fallback"`
}

// Tips returns the latest cached tips for category, or the built-in list.
// A cache read error is returned with the built-in answer.
func Tips(ctx context.Context, db *gorm.DB, category string) (*TipsResult, error) {
	category = newLowerCaser().String(strings.TrimSpace(category))
	res := &TipsResult{
		Tips:     append([]string(nil), BuiltinTips...),
		Category: category,
		Source:   TipsFromBuiltin,
		Fallback: true,
	}
	if db == nil {
		return res, nil
	}
	rows, err := repo.LatestTips(ctx, db, category, maxCachedTips)
	if err != nil {
		return res, err
	}
	if len(rows) == 0 {
		return res, nil
	}
	tips := make([]string, 0, len(rows))
	for _, r := range rows {
		tips = append(tips, r.Content)
	}
	res.Tips = tips
	res.Source = TipsFromCache
	return res, nil
}

// ErrNoIntel is returned when no intelligence summary has been cached.
var ErrNoIntel = errors.New("no cached threat intelligence")

// IntelResult is the fallback answer for the intelligence capability.
type IntelResult struct {
	Summary  json.RawMessage `json:"summary"`
	CachedAt string          `json:"cached_at"`
	Fallback bool            `json:"fallback"`
}

// Intelligence returns the most recent cached summary.
func Intelligence(ctx context.Context, db *gorm.DB) (*IntelResult, error) {
	if db == nil {
		return nil, ErrNoIntel
	}
	row, err := repo.LatestThreatIntel(ctx, db)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoIntel
	}
	if err != nil {
		return nil, err
	}
	return &IntelResult{
		Summary:  json.RawMessage(row.Summary),
		CachedAt: row.CreatedAt.UTC().Format(time.RFC3339),
		Fallback: true,
	}, nil
}
