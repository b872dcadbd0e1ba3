package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/extract"
	"github.com/JakeFAU/inn-enricher/internal/metrics"
	"github.com/JakeFAU/inn-enricher/internal/pdftext"
)

// httpDirect fetches learned, root and well-known pages with plain GETs.
type httpDirect struct {
	e *Engine
}

func (s *httpDirect) Tier() enrich.Tier { return enrich.TierHTTPDirect }

func (s *httpDirect) Applies(*Attempt) bool { return s.e.deps.Fetcher != nil }

func (s *httpDirect) Attempt(ctx context.Context, a *Attempt) (Partial, error) {
	var (
		partial Partial
		lastErr error
		fetched int
	)
	queue := newPathQueue()
	queue.push(s.e.priorityURLs(a.Domain)...)
	queue.push("/")
	defaults := s.e.cfg.DefaultPaths

	for fetched < s.e.cfg.MaxHTTPPages {
		path, ok := queue.pop()
		if !ok {
			if len(defaults) == 0 {
				break
			}
			queue.push(defaults...)
			defaults = nil
			continue
		}
		if err := ctx.Err(); err != nil {
			return partial, fmt.Errorf("http tier canceled: %w", err)
		}
		fetched++
		pageURL, resp, err := s.fetch(ctx, a, path)
		now := s.e.deps.Clock.Now()
		if err != nil {
			lastErr = err
			a.record(pageURL, enrich.TierHTTPDirect, enrich.OutcomeError, err, now)
			continue
		}
		lastErr = nil

		var findings extract.Findings
		if pdftext.IsPDF(resp.Body) {
			text, perr := s.e.deps.PDF.ExtractText(ctx, resp.Body)
			if perr != nil {
				a.record(pageURL, enrich.TierHTTPDirect, enrich.OutcomeError, perr, now)
				continue
			}
			findings = extract.Extract(text, "")
		} else {
			page := extract.ParsePage(resp.URL, string(resp.Body))
			if blocked, marker := s.challenged(page); blocked {
				a.record(pageURL, enrich.TierHTTPDirect, enrich.OutcomeCaptcha, fmt.Errorf("challenge page (%s)", marker), now)
				continue
			}
			a.pages = append(a.pages, page)
			findings = page.Findings()
			if path == "/" {
				queue.push(s.discovered(a, resp.URL, page)...)
			}
		}

		partial.absorb(findings, path)
		a.record(pageURL, enrich.TierHTTPDirect, outcomeFor(findings), nil, now)
		if partial.complete() {
			break
		}
	}
	if partial.TaxID == "" && len(a.pages) == 0 && lastErr != nil {
		return partial, lastErr
	}
	return partial, nil
}

// fetch GETs path over HTTPS, falling back to plain HTTP once when the site
// has no working TLS endpoint.
func (s *httpDirect) fetch(ctx context.Context, a *Attempt, path string) (string, enrich.FetchResponse, error) {
	pageURL := a.baseURL() + path
	resp, err := s.e.deps.Fetcher.Fetch(ctx, pageURL)
	if err == nil {
		a.scheme = schemeOf(pageURL)
		metrics.ObserveFetch(string(enrich.TierHTTPDirect), strconv.Itoa(resp.StatusCode), len(resp.Body))
		return pageURL, resp, nil
	}
	metrics.ObserveFetch(string(enrich.TierHTTPDirect), "error", 0)
	if a.scheme != "" || isHTTPStatusError(err) || ctx.Err() != nil {
		return pageURL, resp, err
	}
	s.e.logger.Debug("https failed, retrying over http", zap.String("url", pageURL), zap.Error(err))
	a.record(pageURL, enrich.TierHTTPDirect, enrich.OutcomeError, err, s.e.deps.Clock.Now())
	plainURL := "http://" + a.Domain + path
	resp, err = s.e.deps.Fetcher.Fetch(ctx, plainURL)
	if err != nil {
		metrics.ObserveFetch(string(enrich.TierHTTPDirect), "error", 0)
		return plainURL, resp, err
	}
	a.scheme = "http"
	metrics.ObserveFetch(string(enrich.TierHTTPDirect), strconv.Itoa(resp.StatusCode), len(resp.Body))
	return plainURL, resp, nil
}

func (s *httpDirect) challenged(page extract.Page) (bool, string) {
	if s.e.deps.Detector == nil {
		return false, ""
	}
	return s.e.deps.Detector.Challenge(page.URL, page.Raw)
}

// discovered turns same-site contact links on the home page into paths.
func (s *httpDirect) discovered(a *Attempt, pageURL string, page extract.Page) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var paths []string
	for _, link := range extract.DiscoverLinks(base, a.Domain, page.Doc) {
		if p := pathOf(link); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func outcomeFor(f extract.Findings) enrich.Outcome {
	if f.HasTaxID() || len(f.Emails) > 0 {
		return enrich.OutcomeFound
	}
	return enrich.OutcomeNoData
}

func schemeOf(rawURL string) string {
	scheme, _, _ := strings.Cut(rawURL, "://")
	return scheme
}

// isHTTPStatusError reports a response that arrived with an error status,
// which means the transport itself worked.
func isHTTPStatusError(err error) bool {
	var statusErr *enrich.StatusError
	return errors.As(err, &statusErr)
}

// pathQueue is a FIFO of unique paths.
type pathQueue struct {
	items []string
	seen  map[string]struct{}
}

func newPathQueue() *pathQueue {
	return &pathQueue{seen: map[string]struct{}{}}
}

func (q *pathQueue) push(paths ...string) {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		key := strings.TrimRight(p, "/")
		if key == "" {
			key = "/"
		}
		if _, dup := q.seen[key]; dup {
			continue
		}
		q.seen[key] = struct{}{}
		q.items = append(q.items, p)
	}
}

func (q *pathQueue) pop() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}
