package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeURL trims surrounding whitespace, lower-cases the URL and strips
// trailing slashes. Query strings and scheme are kept, so "http://a.com/"
// and "http://a.com" collide while "https://a.com" does not.
func NormalizeURL(raw string) string {
	// Casers are stateful; build one per call.
	s := cases.Lower(language.Und).String(strings.TrimSpace(raw))
	return strings.TrimRight(s, "/")
}

// HashURL returns the hex SHA-256 of NormalizeURL(raw). It keys the scam
// table, detections and reports.
func HashURL(raw string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(raw)))
	return hex.EncodeToString(sum[:])
}

// Hostname extracts the lower-cased host of raw. Inputs without a scheme
// ("kbz-bank.tk/login") are parsed as if prefixed with http://. It returns
// the normalized input when nothing parses.
func Hostname(raw string) string {
	s := NormalizeURL(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return NormalizeURL(raw)
	}
	return u.Hostname()
}
