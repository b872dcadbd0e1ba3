package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/extract"
	"github.com/JakeFAU/inn-enricher/internal/metrics"
	"github.com/JakeFAU/inn-enricher/internal/pdftext"
	"github.com/JakeFAU/inn-enricher/internal/progress"
)

// browserRendered drives a real browser tab through the site. It only runs
// while the tax id is missing.
type browserRendered struct {
	e *Engine
}

func (s *browserRendered) Tier() enrich.Tier { return enrich.TierBrowserRendered }

func (s *browserRendered) Applies(a *Attempt) bool {
	return !a.HasTaxID() && s.e.deps.Browser != nil
}

func (s *browserRendered) Attempt(ctx context.Context, a *Attempt) (Partial, error) {
	sess, err := a.run.browserSession(ctx)
	if err != nil {
		return Partial{}, err
	}
	m := &browserMachine{e: s.e, a: a, sess: sess}
	err = m.run(ctx)
	if err != nil && !errors.Is(err, ErrCaptchaTimeout) && ctx.Err() == nil {
		// A failed step may leave the tab wedged; the next domain starts clean.
		a.run.dropSession()
	}
	return m.partial, err
}

type browserStep int

const (
	stepFetchMain browserStep = iota
	stepDiscoverLinks
	stepVisitContacts
	stepFetchPDFs
	stepDone
)

func (s browserStep) String() string {
	switch s {
	case stepFetchMain:
		return "fetch_main"
	case stepDiscoverLinks:
		return "discover_links"
	case stepVisitContacts:
		return "visit_contacts"
	case stepFetchPDFs:
		return "fetch_pdfs"
	default:
		return "done"
	}
}

// browserMachine is the per-domain state of the rendered tier.
type browserMachine struct {
	e    *Engine
	a    *Attempt
	sess enrich.BrowserSession

	main     enrich.RenderedPage
	mainURL  *url.URL
	contacts []string
	pdfs     []string
	pdfSeen  map[string]struct{}
	partial  Partial
}

func (m *browserMachine) run(ctx context.Context) error {
	step := stepFetchMain
	for step != stepDone {
		stepCtx, cancel := context.WithTimeout(ctx, m.deadline(step))
		next, err := m.handle(stepCtx, step)
		cancel()
		if err != nil {
			return fmt.Errorf("browser %s: %w", step, err)
		}
		if m.satisfied() {
			return nil
		}
		step = next
	}
	return nil
}

func (m *browserMachine) handle(ctx context.Context, step browserStep) (browserStep, error) {
	switch step {
	case stepFetchMain:
		return m.fetchMain(ctx)
	case stepDiscoverLinks:
		return m.discoverLinks()
	case stepVisitContacts:
		return m.visitContacts(ctx)
	case stepFetchPDFs:
		return m.fetchPDFs(ctx)
	default:
		return stepDone, nil
	}
}

// deadline bounds each step; page steps leave room for one CAPTCHA wait.
func (m *browserMachine) deadline(step browserStep) time.Duration {
	cfg := m.e.cfg
	switch step {
	case stepFetchMain:
		return 2*cfg.PageTimeout + cfg.CaptchaWait
	case stepVisitContacts:
		return time.Duration(cfg.MaxContactPages)*cfg.PageTimeout + cfg.CaptchaWait
	case stepFetchPDFs:
		return time.Duration(cfg.MaxPDFs) * cfg.PDFTimeout
	default:
		return cfg.PageTimeout
	}
}

func (m *browserMachine) satisfied() bool {
	return (m.a.HasTaxID() || m.partial.TaxID != "") &&
		(m.a.HasEmail() || len(m.partial.Emails) > 0)
}

func (m *browserMachine) fetchMain(ctx context.Context) (browserStep, error) {
	var lastErr error
	for _, scheme := range []string{"https", "http"} {
		target := scheme + "://" + m.a.Domain + "/"
		rendered, err := m.visit(ctx, target)
		if errors.Is(err, enrich.ErrDownloadTriggered) {
			m.queuePDF(target)
			return stepFetchPDFs, nil
		}
		if err != nil {
			if errors.Is(err, ErrCaptchaTimeout) || ctx.Err() != nil {
				return stepDone, err
			}
			lastErr = err
			continue
		}
		m.main = rendered
		m.mainURL, _ = url.Parse(rendered.URL)
		if m.mainURL == nil {
			m.mainURL, _ = url.Parse(target)
		}
		m.absorbPage(target, rendered)
		return stepDiscoverLinks, nil
	}
	return stepDone, fmt.Errorf("main page unreachable: %w", lastErr)
}

func (m *browserMachine) discoverLinks() (browserStep, error) {
	page := extract.ParsePage(m.main.URL, m.main.HTML)
	seen := map[string]struct{}{}
	add := func(raw string) {
		if _, dup := seen[raw]; dup || len(m.contacts) >= m.e.cfg.MaxContactPages {
			return
		}
		seen[raw] = struct{}{}
		m.contacts = append(m.contacts, raw)
	}
	for _, learned := range m.e.priorityURLs(m.a.Domain) {
		ref, err := url.Parse(learned)
		if err != nil {
			continue
		}
		add(m.mainURL.ResolveReference(ref).String())
	}
	for _, link := range extract.DiscoverLinks(m.mainURL, m.a.Domain, page.Doc) {
		add(link)
	}
	for _, pdf := range extract.DiscoverPDFs(m.mainURL, page.Doc) {
		m.queuePDF(pdf)
	}
	m.e.logger.Debug("browser links discovered",
		zap.String("domain", m.a.Domain),
		zap.Int("contacts", len(m.contacts)),
		zap.Int("pdfs", len(m.pdfs)),
	)
	return stepVisitContacts, nil
}

func (m *browserMachine) visitContacts(ctx context.Context) (browserStep, error) {
	for _, target := range m.contacts {
		if ctx.Err() != nil {
			break
		}
		rendered, err := m.visit(ctx, target)
		switch {
		case errors.Is(err, enrich.ErrDownloadTriggered):
			m.queuePDF(target)
			continue
		case errors.Is(err, ErrCaptchaTimeout):
			return stepDone, err
		case err != nil:
			continue
		}
		m.absorbPage(target, rendered)
		if m.satisfied() {
			return stepDone, nil
		}
		if base, perr := url.Parse(rendered.URL); perr == nil {
			page := extract.ParsePage(rendered.URL, rendered.HTML)
			for _, pdf := range extract.DiscoverPDFs(base, page.Doc) {
				m.queuePDF(pdf)
			}
		}
	}
	return stepFetchPDFs, nil
}

func (m *browserMachine) fetchPDFs(ctx context.Context) (browserStep, error) {
	for i, target := range m.pdfs {
		if i >= m.e.cfg.MaxPDFs || ctx.Err() != nil {
			break
		}
		text, err := m.pdfText(ctx, target)
		now := m.e.deps.Clock.Now()
		if err != nil {
			m.a.record(target, enrich.TierBrowserRendered, enrich.OutcomeError, err, now)
			continue
		}
		findings := extract.Extract(text, "")
		m.partial.absorb(findings, pathOf(target))
		m.a.record(target, enrich.TierBrowserRendered, outcomeFor(findings), nil, now)
		if m.satisfied() {
			break
		}
	}
	return stepDone, nil
}

// pdfText downloads a PDF over plain HTTP and extracts its text.
func (m *browserMachine) pdfText(ctx context.Context, target string) (string, error) {
	if m.e.deps.Fetcher == nil || m.e.deps.PDF == nil {
		return "", errors.New("pdf path not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, m.e.cfg.PDFTimeout)
	defer cancel()
	resp, err := m.e.deps.Fetcher.Fetch(ctx, target)
	if err != nil {
		metrics.ObserveFetch(string(enrich.TierBrowserRendered), "error", 0)
		return "", fmt.Errorf("download pdf: %w", err)
	}
	metrics.ObserveFetch(string(enrich.TierBrowserRendered), strconv.Itoa(resp.StatusCode), len(resp.Body))
	if len(resp.Body) > m.e.deps.PDF.MaxBytes() {
		return "", fmt.Errorf("%w: %d bytes", pdftext.ErrTooLarge, len(resp.Body))
	}
	text, err := m.e.deps.PDF.ExtractText(ctx, resp.Body)
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	return text, nil
}

func (m *browserMachine) queuePDF(target string) {
	if m.pdfSeen == nil {
		m.pdfSeen = map[string]struct{}{}
	}
	if _, dup := m.pdfSeen[target]; dup {
		return
	}
	m.pdfSeen[target] = struct{}{}
	m.pdfs = append(m.pdfs, target)
}

func (m *browserMachine) absorbPage(target string, rendered enrich.RenderedPage) {
	page := extract.ParsePage(rendered.URL, rendered.HTML)
	findings := page.Findings()
	m.partial.absorb(findings, pathOf(target))
	m.a.record(target, enrich.TierBrowserRendered, outcomeFor(findings), nil, m.e.deps.Clock.Now())
}

// visit navigates and, when the page is a CAPTCHA wall, waits for an
// operator to clear it.
func (m *browserMachine) visit(ctx context.Context, target string) (enrich.RenderedPage, error) {
	rendered, err := m.sess.Navigate(ctx, target)
	now := m.e.deps.Clock.Now()
	switch {
	case errors.Is(err, enrich.ErrDownloadTriggered):
		m.a.record(target, enrich.TierBrowserRendered, enrich.OutcomeRedirect, nil, now)
		return rendered, err
	case err != nil:
		m.a.record(target, enrich.TierBrowserRendered, enrich.OutcomeError, err, now)
		return rendered, err
	}
	metrics.ObserveFetch(string(enrich.TierBrowserRendered), strconv.Itoa(rendered.StatusCode), len(rendered.HTML))
	if m.e.deps.Detector == nil {
		return rendered, nil
	}
	blocked, marker := m.e.deps.Detector.Challenge(rendered.URL, rendered.HTML)
	if !blocked {
		return rendered, nil
	}
	m.a.record(target, enrich.TierBrowserRendered, enrich.OutcomeCaptcha, nil, now)
	return m.awaitCaptcha(ctx, target, marker)
}

func (m *browserMachine) awaitCaptcha(ctx context.Context, target, marker string) (enrich.RenderedPage, error) {
	logger := m.e.logger.With(zap.String("domain", m.a.Domain), zap.String("url", target))
	logger.Warn("captcha detected, waiting for operator", zap.String("marker", marker))
	if err := m.sess.Foreground(ctx); err != nil {
		logger.Warn("foreground browser window", zap.Error(err))
	}
	started := time.Now()
	m.emit(progress.StageCaptchaWait, target, marker, 0)

	wait := time.NewTimer(m.e.cfg.CaptchaWait)
	defer wait.Stop()
	poll := time.NewTicker(m.e.cfg.CaptchaPoll)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return enrich.RenderedPage{}, fmt.Errorf("captcha wait canceled: %w", ctx.Err())
		case <-wait.C:
			m.emit(progress.StageCaptchaCleared, target, "timeout", time.Since(started))
			m.a.record(target, enrich.TierBrowserRendered, enrich.OutcomeError, ErrCaptchaTimeout, m.e.deps.Clock.Now())
			return enrich.RenderedPage{}, fmt.Errorf("%s: %w", target, ErrCaptchaTimeout)
		case <-poll.C:
			snap, err := m.sess.Snapshot(ctx)
			if err != nil {
				logger.Debug("captcha snapshot failed", zap.Error(err))
				continue
			}
			if blocked, _ := m.e.deps.Detector.Challenge(snap.URL, snap.HTML); blocked {
				continue
			}
			logger.Info("captcha cleared", zap.Duration("waited", time.Since(started)))
			m.emit(progress.StageCaptchaCleared, target, "", time.Since(started))
			return snap, nil
		}
	}
}

func (m *browserMachine) emit(stage progress.Stage, target, note string, dur time.Duration) {
	m.e.deps.Progress.Emit(progress.Event{
		JobID:  m.a.run.jobID,
		TS:     m.e.deps.Clock.Now(),
		Stage:  stage,
		Domain: m.a.Domain,
		URL:    target,
		Dur:    dur,
		Note:   note,
	})
}
