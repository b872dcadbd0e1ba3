// Package enrich defines the shared types and contracts of the domain
// enrichment pipeline: extraction results, strategies, jobs, and the
// stores and collaborators the engine and scheduler depend on.
package enrich

import (
	"strings"
	"time"
)

// Tier is one step of the extraction escalation ladder.
type Tier string

// Supported tiers, cheapest first.
const (
	TierHTTPDirect      Tier = "http_direct"
	TierEmbeddedSniff   Tier = "embedded_sniff"
	TierBrowserRendered Tier = "browser_rendered"
)

// Rank orders tiers; unknown tiers rank last.
func (t Tier) Rank() int {
	switch t {
	case TierHTTPDirect:
		return 1
	case TierEmbeddedSniff:
		return 2
	case TierBrowserRendered:
		return 3
	default:
		return 4
	}
}

// Strategy records how a result was obtained, formatted as "tier" or
// "tier:detail" (for example "browser_rendered:/contacts").
type Strategy string

// NewStrategy joins a tier and an optional detail.
func NewStrategy(tier Tier, detail string) Strategy {
	if detail == "" {
		return Strategy(tier)
	}
	return Strategy(string(tier) + ":" + detail)
}

// Tier returns the tier prefix of the strategy.
func (s Strategy) Tier() Tier {
	tier, _, _ := strings.Cut(string(s), ":")
	return Tier(tier)
}

// Detail returns the part after the first colon, or "".
func (s Strategy) Detail() string {
	_, detail, _ := strings.Cut(string(s), ":")
	return detail
}

// DataType names what a learned URL pattern is good for.
type DataType string

// Learned data types.
const (
	DataTaxID DataType = "tax_id"
	DataEmail DataType = "email"
)

// Valid reports whether the data type is known.
func (d DataType) Valid() bool {
	return d == DataTaxID || d == DataEmail
}

// Outcome classifies a single attempted URL in the extraction log.
type Outcome string

// Extraction log outcomes.
const (
	OutcomeFound    Outcome = "found"
	OutcomeNoData   Outcome = "no_data"
	OutcomeError    Outcome = "error"
	OutcomeCaptcha  Outcome = "captcha"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRedirect Outcome = "download_redirected"
)

// LogEntry is one line of the per-domain extraction audit log.
type LogEntry struct {
	URL     string    `json:"url"`
	Tier    Tier      `json:"tier"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// ExtractionResult is the outcome of enriching one domain.
type ExtractionResult struct {
	Domain         string     `json:"domain"`
	TaxID          *string    `json:"tax_id"`
	Emails         []string   `json:"emails"`
	SourceURLs     []string   `json:"source_urls"`
	EmailSource    string     `json:"email_source,omitempty"`
	Strategy       Strategy   `json:"strategy_used"`
	StrategyTimeMs int64      `json:"strategy_time_ms"`
	Error          string     `json:"error,omitempty"`
	LogURI         string     `json:"log_uri,omitempty"`
	Log            []LogEntry `json:"-"`
}

// HasTaxID reports whether a tax id was found.
func (r ExtractionResult) HasTaxID() bool {
	return r.TaxID != nil && *r.TaxID != ""
}

// HasEmail reports whether at least one email was found.
func (r ExtractionResult) HasEmail() bool {
	return len(r.Emails) > 0
}

// SupplierRecord is the payload handed to the supplier registry for a
// domain where both a tax id and emails were found.
type SupplierRecord struct {
	Domain     string   `json:"domain"`
	TaxID      string   `json:"tax_id"`
	Emails     []string `json:"emails"`
	SourceURLs []string `json:"source_urls"`
}

// Moderation reasons reported to the supplier registry.
const (
	ReasonTaxIDNotFound = "tax_id_not_found"
	ReasonEmailNotFound = "email_not_found"
)
