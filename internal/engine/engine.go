// Package engine runs the tiered extraction for one domain: direct HTTP,
// embedded-data sniffing, and a rendered browser pass, escalating only while
// the tax id is still missing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/extract"
	"github.com/JakeFAU/inn-enricher/internal/metrics"
	"github.com/JakeFAU/inn-enricher/internal/progress"
)

// ErrCaptchaTimeout is returned when an operator did not clear a CAPTCHA in
// time.
var ErrCaptchaTimeout = errors.New("captcha wait timed out")

// ErrInvalidDomain is reported for inputs that do not normalize to a host.
var ErrInvalidDomain = errors.New("invalid domain")

// DefaultPaths are the contact, about and requisites pages tried by the
// direct HTTP tier after the learned ones.
var DefaultPaths = []string{
	"/contacts", "/contact", "/kontakty", "/rekvizity", "/requisites",
	"/about", "/o-kompanii", "/company", "/about-us", "/o-nas",
}

// Config tunes the tiers.
type Config struct {
	MaxHTTPPages    int
	DefaultPaths    []string
	PageTimeout     time.Duration
	CaptchaWait     time.Duration
	CaptchaPoll     time.Duration
	MaxContactPages int
	MaxPDFs         int
	PDFTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxHTTPPages <= 0 {
		c.MaxHTTPPages = 8
	}
	if c.DefaultPaths == nil {
		c.DefaultPaths = DefaultPaths
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 15 * time.Second
	}
	if c.CaptchaWait <= 0 {
		c.CaptchaWait = 180 * time.Second
	}
	if c.CaptchaPoll <= 0 {
		c.CaptchaPoll = 3 * time.Second
	}
	if c.MaxContactPages <= 0 {
		c.MaxContactPages = 5
	}
	if c.MaxPDFs <= 0 {
		c.MaxPDFs = 3
	}
	if c.PDFTimeout <= 0 {
		c.PDFTimeout = 30 * time.Second
	}
}

// PDFExtractor turns a PDF into text.
type PDFExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
	MaxBytes() int
}

// ChallengeDetector recognizes CAPTCHA walls.
type ChallengeDetector interface {
	Challenge(pageURL, body string) (bool, string)
}

// Deps are the engine's collaborators. Fetcher, Learning and PDF are
// required; a nil Browser disables the rendered tier.
type Deps struct {
	Fetcher  enrich.Fetcher
	Browser  enrich.Browser
	Learning enrich.LearningStore
	PDF      PDFExtractor
	Detector ChallengeDetector
	Progress progress.Emitter
	Clock    enrich.Clock
	Logger   *zap.Logger
}

// Strategy is one extraction tier. Applies decides from the accumulated
// state whether the tier should run at all.
type Strategy interface {
	Tier() enrich.Tier
	Applies(a *Attempt) bool
	Attempt(ctx context.Context, a *Attempt) (Partial, error)
}

// Partial is what a tier found. Detail names where the tax id came from,
// EmailDetail where the first emails came from.
type Partial struct {
	TaxID       string
	Detail      string
	Emails      []string
	EmailDetail string
}

func (p *Partial) absorb(f extract.Findings, detail string) {
	if p.TaxID == "" && f.HasTaxID() {
		p.TaxID = f.TaxID
		p.Detail = detail
	}
	if p.EmailDetail == "" && len(f.Emails) > 0 {
		p.EmailDetail = detail
	}
	p.Emails = extract.MergeEmails(p.Emails, f.Emails)
}

func (p Partial) complete() bool {
	return p.TaxID != "" && len(p.Emails) > 0
}

// Engine extracts tax ids and emails for domains.
type Engine struct {
	cfg        Config
	deps       Deps
	logger     *zap.Logger
	strategies []Strategy
}

// New wires the three tiers in escalation order.
func New(cfg Config, deps Deps) *Engine {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = enrich.SystemClock{}
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("engine"),
	}
	e.strategies = []Strategy{
		&httpDirect{e: e},
		&embeddedSniff{e: e},
		&browserRendered{e: e},
	}
	return e
}

// Extract runs a one-off extraction with its own browser session.
func (e *Engine) Extract(ctx context.Context, domain string) enrich.ExtractionResult {
	run := e.NewRun("")
	defer func() {
		if err := run.Close(); err != nil {
			e.logger.Warn("close browser session", zap.Error(err))
		}
	}()
	return run.Extract(ctx, domain)
}

// Run extracts several domains sequentially, reusing one browser session.
// It is not safe for concurrent use.
type Run struct {
	e       *Engine
	jobID   string
	session enrich.BrowserSession
}

// NewRun starts a run for a job. The browser session opens lazily.
func (e *Engine) NewRun(jobID string) *Run {
	return &Run{e: e, jobID: jobID}
}

// Close releases the browser session, if one was opened.
func (r *Run) Close() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	if err != nil {
		return fmt.Errorf("close browser session: %w", err)
	}
	return nil
}

func (r *Run) browserSession(ctx context.Context) (enrich.BrowserSession, error) {
	if r.session != nil {
		return r.session, nil
	}
	if r.e.deps.Browser == nil {
		return nil, errors.New("browser tier disabled")
	}
	sess, err := r.e.deps.Browser.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	r.session = sess
	return sess, nil
}

// dropSession discards a session that stopped responding so the next
// domain gets a fresh one.
func (r *Run) dropSession() {
	if r.session != nil {
		_ = r.session.Close()
		r.session = nil
	}
}

// Attempt is the mutable state of one domain extraction shared by the tiers.
type Attempt struct {
	Domain string
	run    *Run
	result *enrich.ExtractionResult
	// pages are the HTML documents fetched by the direct tier.
	pages  []extract.Page
	scheme string
	taxID  string
	emails []string
	// emailFrom is the tier and page that first yielded emails.
	emailFrom enrich.Strategy
}

// HasTaxID reports whether a tier already found the tax id.
func (a *Attempt) HasTaxID() bool {
	return a.taxID != ""
}

// HasEmail reports whether a tier already found an email.
func (a *Attempt) HasEmail() bool {
	return len(a.emails) > 0
}

func (a *Attempt) record(rawURL string, tier enrich.Tier, outcome enrich.Outcome, err error, now time.Time) {
	entry := enrich.LogEntry{URL: rawURL, Tier: tier, Outcome: outcome, At: now}
	if err != nil {
		entry.Error = err.Error()
	}
	a.result.Log = append(a.result.Log, entry)
	for _, seen := range a.result.SourceURLs {
		if seen == rawURL {
			return
		}
	}
	a.result.SourceURLs = append(a.result.SourceURLs, rawURL)
}

func (a *Attempt) baseURL() string {
	scheme := a.scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + a.Domain
}

// Extract runs the escalation ladder for one domain. Errors are absorbed
// into the result.
func (r *Run) Extract(ctx context.Context, rawDomain string) enrich.ExtractionResult {
	e := r.e
	start := e.deps.Clock.Now()
	domain := enrich.NormalizeDomain(rawDomain)
	result := enrich.ExtractionResult{Domain: domain, Emails: []string{}, SourceURLs: []string{}}
	if domain == "" {
		result.Domain = strings.TrimSpace(rawDomain)
		result.Error = ErrInvalidDomain.Error()
		return result
	}
	logger := e.logger.With(zap.String("domain", domain), zap.String("job_id", r.jobID))
	a := &Attempt{Domain: domain, run: r, result: &result}

	var (
		winner  enrich.Strategy
		last    enrich.Tier
		lastErr error
	)
	for _, s := range e.strategies {
		if a.HasTaxID() && a.HasEmail() {
			break
		}
		if !s.Applies(a) {
			continue
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		last = s.Tier()
		tierStart := time.Now()
		partial, err := s.Attempt(ctx, a)
		if a.emailFrom == "" && len(partial.Emails) > 0 && partial.EmailDetail != "" {
			a.emailFrom = enrich.NewStrategy(s.Tier(), partial.EmailDetail)
		}
		a.emails = extract.MergeEmails(a.emails, partial.Emails)
		if !a.HasTaxID() && partial.TaxID != "" {
			a.taxID = partial.TaxID
			winner = enrich.NewStrategy(s.Tier(), partial.Detail)
		}
		metrics.ObserveTier(string(s.Tier()), tierResult(partial, err), time.Since(tierStart))
		if err != nil {
			lastErr = err
			logger.Info("tier failed", zap.String("tier", string(s.Tier())), zap.Error(err))
		}
	}

	if winner == "" {
		winner = enrich.Strategy(last)
	}
	result.Strategy = winner
	result.TaxID = enrich.StringPtr(a.taxID)
	result.Emails = append(result.Emails, a.emails...)
	if result.HasEmail() {
		result.EmailSource = a.emailFrom.Detail()
	}
	elapsed := e.deps.Clock.Now().Sub(start)
	result.StrategyTimeMs = elapsed.Milliseconds()
	if !result.HasTaxID() && lastErr != nil {
		result.Error = lastErr.Error()
	}

	if e.deps.Learning != nil {
		if err := e.deps.Learning.SaveStrategyResult(domain, result.Strategy, result.HasTaxID(), result.HasEmail(), elapsed); err != nil {
			logger.Warn("save strategy result", zap.Error(err))
		}
		if result.HasEmail() && a.emailFrom != "" {
			if err := e.deps.Learning.SaveEmailSource(domain, a.emailFrom); err != nil {
				logger.Warn("save email source", zap.Error(err))
			}
		}
	}
	logger.Info("domain extracted",
		zap.String("strategy", string(result.Strategy)),
		zap.Bool("tax_id", result.HasTaxID()),
		zap.Int("emails", len(result.Emails)),
		zap.Int64("ms", result.StrategyTimeMs),
	)
	return result
}

// priorityURLs returns learned tax id paths, then learned email paths.
func (e *Engine) priorityURLs(domain string) []string {
	if e.deps.Learning == nil {
		return nil
	}
	urls := e.deps.Learning.PriorityURLs(domain, enrich.DataTaxID)
	return append(urls, e.deps.Learning.PriorityURLs(domain, enrich.DataEmail)...)
}

func tierResult(p Partial, err error) string {
	switch {
	case p.TaxID != "":
		return "found"
	case err != nil:
		return "error"
	case len(p.Emails) > 0:
		return "email_only"
	default:
		return "no_data"
	}
}

// pathOf returns the path and query of a URL for strategy details and
// learning.
func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
