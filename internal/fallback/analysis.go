// Package fallback computes the degraded answers the gateway serves when the
// AI service cannot be reached. Every value produced here is marked as a
// fallback so clients can tell it apart from an authoritative answer.
package fallback

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/repo"
	"github.com/tbourn/phishguard-gateway/internal/utils"
)

// Threat levels reported by the URL fallback.
const (
	ThreatHigh   = "high"
	ThreatMedium = "medium"
	ThreatLow    = "low"
)

// HeuristicConfidence is the fixed confidence of a keyword-based verdict.
const HeuristicConfidence = 0.3

// AnalysisMessage marks a degraded URL analysis.
const AnalysisMessage = "AI service unavailable, using fallback analysis"

// suspiciousKeywords are matched against the URL hostname.
var suspiciousKeywords = []string{"login", "secure", "verify", "account", "bank"}

// Analysis is the fallback verdict for a URL.
type Analysis struct {
	URL              string   `json:"url"`
	ThreatLevel      string   `json:"threat_level"`
	Confidence       float64  `json:"confidence"`
	IsSuspicious     bool     `json:"is_suspicious"`
	ThreatType       string   `json:"threat_type,omitempty"`
	DetectionMethods []string `json:"detection_methods"`
	Fallback         bool     `json:"fallback"`
	Message          string   `json:"message"`
}

// AnalyzeURL looks rawURL up in the local scam table and falls back to a
// hostname keyword heuristic. A lookup failure other than "not found" is
// returned alongside the heuristic verdict so the caller can log it; the
// verdict is always usable.
func AnalyzeURL(ctx context.Context, db *gorm.DB, rawURL string) (*Analysis, error) {
	var lookupErr error
	if db != nil {
		hit, err := repo.FindActiveScamURL(ctx, db, utils.HashURL(rawURL))
		switch {
		case err == nil:
			return &Analysis{
				URL:              rawURL,
				ThreatLevel:      ThreatHigh,
				Confidence:       hit.Confidence,
				IsSuspicious:     true,
				ThreatType:       hit.ThreatType,
				DetectionMethods: []string{"local_database"},
				Fallback:         true,
				Message:          AnalysisMessage,
			}, nil
		case !errors.Is(err, repo.ErrNotFound):
			lookupErr = err
		}
	}

	a := &Analysis{
		URL:              rawURL,
		ThreatLevel:      ThreatLow,
		Confidence:       HeuristicConfidence,
		DetectionMethods: []string{"keyword_heuristic"},
		Fallback:         true,
		Message:          AnalysisMessage,
	}
	if HostLooksSuspicious(rawURL) {
		a.ThreatLevel = ThreatMedium
		a.IsSuspicious = true
	}
	return a, lookupErr
}

// HostLooksSuspicious reports whether the hostname of rawURL contains one of
// the phishing keywords. Paths and query strings are not inspected.
func HostLooksSuspicious(rawURL string) bool {
	host := cases.Fold().String(utils.Hostname(rawURL))
	if host == "" {
		return false
	}
	for _, kw := range suspiciousKeywords {
		if strings.Contains(host, kw) {
			return true
		}
	}
	return false
}

// matchFold reports whether s contains kw ignoring case.
func matchFold(s, kw string) bool {
	return strings.Contains(cases.Fold().String(s), cases.Fold().String(kw))
}

// newLowerCaser is used where output is shown to users.
func newLowerCaser() cases.Caser { return cases.Lower(language.Und) }
