// Package detector recognizes CAPTCHA and anti-bot challenge pages.
package detector

import (
	"strings"
)

// Heuristic implements a handful of rule-based challenge checks.
type Heuristic struct {
	// BodyLengthThreshold bounds the size of script-only interstitials.
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 4096
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var urlMarkers = []string{
	"captcha",
	"/cdn-cgi/challenge",
	"__cf_chl",
	"/checkcaptcha",
	"challenge-platform",
}

var contentMarkers = []string{
	"g-recaptcha",
	"h-captcha",
	"smartcaptcha",
	"smart-captcha",
	"cf-challenge",
	"cf-turnstile",
	"challenge-form",
	"ddos-guard",
	"я не робот",
	"подтвердите, что вы не робот",
	"проверка браузера",
	"i'm not a robot",
	"checking your browser",
	"verify you are human",
}

var reloadMarkers = []string{
	"document.cookie",
	"location.reload",
	"window.location.replace",
}

// Challenge reports whether the page is a CAPTCHA or anti-bot wall, and the
// marker that matched.
func (h *Heuristic) Challenge(pageURL, body string) (bool, string) {
	lowerURL := strings.ToLower(pageURL)
	for _, marker := range urlMarkers {
		if strings.Contains(lowerURL, marker) {
			return true, "url:" + marker
		}
	}
	lower := strings.ToLower(body)
	for _, marker := range contentMarkers {
		if strings.Contains(lower, marker) {
			return true, "content:" + marker
		}
	}
	if len(lower) > 0 && len(lower) < h.BodyLengthThreshold && scriptDensityHigh(lower) {
		for _, marker := range reloadMarkers {
			if strings.Contains(lower, marker) {
				return true, "interstitial:" + marker
			}
		}
	}
	return false, ""
}

// scriptDensityHigh expects lowercased HTML.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 50
}
