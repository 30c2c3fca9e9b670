// Package detector decides whether a retrieved payload is a plausible album
// document, and whether a blocked payload deserves a headless retry.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// Verdict classifies one retrieval.
type Verdict string

// Possible verdicts. Only VerdictUsable ends the candidate search.
const (
	VerdictUsable    Verdict = "usable"
	VerdictBadStatus Verdict = "bad_status"
	VerdictTooShort  Verdict = "too_short"
	VerdictBlocked   Verdict = "blocked"
	VerdictMissing   Verdict = "missing"
)

// DefaultMinBytes is the smallest body considered a real album page.
const DefaultMinBytes = 2000

// DefaultChallengeMarkers appear on bot-protection interstitials.
var DefaultChallengeMarkers = []string{
	"just a moment...",
	"cf-browser-verification",
	"challenge-platform",
	"attention required",
	"captcha",
	"access denied",
}

// DefaultMissingMarkers appear on soft 404 pages.
var DefaultMissingMarkers = []string{
	"page not found",
	"oops! page not found",
	"404 not found",
}

// Heuristic implements rule-based plausibility checks.
type Heuristic struct {
	MinBytes         int
	ChallengeMarkers [][]byte
	MissingMarkers   [][]byte
}

// NewHeuristic creates a detector. Nil marker lists fall back to the defaults.
func NewHeuristic(minBytes int, challenge, missing []string) *Heuristic {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	if challenge == nil {
		challenge = DefaultChallengeMarkers
	}
	if missing == nil {
		missing = DefaultMissingMarkers
	}
	return &Heuristic{
		MinBytes:         minBytes,
		ChallengeMarkers: lowerAll(challenge),
		MissingMarkers:   lowerAll(missing),
	}
}

// Classify inspects a response. Marker checks run before the length check so
// a short challenge page is still reported as blocked.
func (h *Heuristic) Classify(resp scraper.Response) Verdict {
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return VerdictBlocked
	case http.StatusNotFound, http.StatusGone:
		return VerdictMissing
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return VerdictBadStatus
	}
	body := bytes.ToLower(resp.Body)
	for _, marker := range h.ChallengeMarkers {
		if bytes.Contains(body, marker) {
			return VerdictBlocked
		}
	}
	for _, marker := range h.MissingMarkers {
		if bytes.Contains(body, marker) {
			return VerdictMissing
		}
	}
	if len(resp.Body) < h.MinBytes {
		return VerdictTooShort
	}
	return VerdictUsable
}

// ShouldEscalate reports whether a browser retry may get past the verdict.
func (h *Heuristic) ShouldEscalate(v Verdict) bool {
	return v == VerdictBlocked
}

func lowerAll(markers []string) [][]byte {
	out := make([][]byte, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(strings.ToLower(m))
		if m == "" {
			continue
		}
		out = append(out, []byte(m))
	}
	return out
}
