package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/progress"
	"github.com/JakeFAU/inn-enricher/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// fakeExtractor returns canned results and records which domains it saw.
type fakeExtractor struct {
	mu      sync.Mutex
	results map[string]enrich.ExtractionResult
	calls   []string
	panicOn string
	onCall  func(domain string)
	closed  int
}

func (f *fakeExtractor) Extract(_ context.Context, domain string) enrich.ExtractionResult {
	f.mu.Lock()
	f.calls = append(f.calls, domain)
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(domain)
	}
	if domain == f.panicOn {
		panic("browser crashed")
	}
	if res, ok := f.results[domain]; ok {
		return res
	}
	return enrich.ExtractionResult{Domain: domain, Strategy: enrich.Strategy(enrich.TierBrowserRendered)}
}

func (f *fakeExtractor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeExtractor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExtractor) factory() ExtractorFactory {
	return func(string) Extractor { return f }
}

// flakyStore fails SaveJob once saves reaches failAt.
type flakyStore struct {
	*memory.JobStore
	mu     sync.Mutex
	saves  int
	failAt int
}

func (s *flakyStore) SaveJob(ctx context.Context, job enrich.Job) error {
	s.mu.Lock()
	s.saves++
	fail := s.failAt > 0 && s.saves >= s.failAt
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.JobStore.SaveJob(ctx, job)
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

// siteFetcher serves fixed pages and 404s everything else.
type siteFetcher struct {
	pages map[string]string
}

func (f siteFetcher) Fetch(_ context.Context, rawURL string) (enrich.FetchResponse, error) {
	body, ok := f.pages[rawURL]
	if !ok {
		return enrich.FetchResponse{}, &enrich.StatusError{URL: rawURL, Code: http.StatusNotFound}
	}
	return enrich.FetchResponse{URL: rawURL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

type siteBrowser struct {
	mu       sync.Mutex
	pages    map[string]string
	sessions int
}

func (b *siteBrowser) NewSession(context.Context) (enrich.BrowserSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	return &siteSession{pages: b.pages}, nil
}

type siteSession struct {
	pages map[string]string
}

func (s *siteSession) Navigate(_ context.Context, rawURL string) (enrich.RenderedPage, error) {
	body, ok := s.pages[rawURL]
	if !ok {
		return enrich.RenderedPage{}, fmt.Errorf("navigate %s: net::ERR_CONNECTION_REFUSED", rawURL)
	}
	return enrich.RenderedPage{URL: rawURL, StatusCode: http.StatusOK, HTML: body}, nil
}

func (s *siteSession) Snapshot(context.Context) (enrich.RenderedPage, error) {
	return enrich.RenderedPage{}, errors.New("no tab")
}

func (s *siteSession) Foreground(context.Context) error { return nil }

func (s *siteSession) Close() error { return nil }

type noPDF struct{}

func (noPDF) ExtractText(context.Context, []byte) (string, error) { return "", errors.New("no pdf") }

func (noPDF) MaxBytes() int { return 1 << 20 }
