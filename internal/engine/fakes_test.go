package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/progress"
)

// fakeFetcher serves canned responses per URL. A URL with several replies
// consumes them in order and repeats the last one. Unknown URLs get a 404.
type fakeFetcher struct {
	mu      sync.Mutex
	replies map[string][]fetchReply
	calls   []string
}

type fetchReply struct {
	body string
	err  error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{replies: map[string][]fetchReply{}}
}

func (f *fakeFetcher) page(rawURL, body string) *fakeFetcher {
	f.replies[rawURL] = append(f.replies[rawURL], fetchReply{body: body})
	return f
}

func (f *fakeFetcher) fail(rawURL string, err error) *fakeFetcher {
	f.replies[rawURL] = append(f.replies[rawURL], fetchReply{err: err})
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (enrich.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	queue, ok := f.replies[rawURL]
	if !ok || len(queue) == 0 {
		return enrich.FetchResponse{}, &enrich.StatusError{URL: rawURL, Code: http.StatusNotFound}
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.replies[rawURL] = queue[1:]
	}
	if reply.err != nil {
		return enrich.FetchResponse{}, reply.err
	}
	return enrich.FetchResponse{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Body:       []byte(reply.body),
	}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeBrowser hands out one shared fakeSession and counts how often a
// session was requested.
type fakeBrowser struct {
	mu       sync.Mutex
	session  *fakeSession
	sessions int
}

func (b *fakeBrowser) NewSession(context.Context) (enrich.BrowserSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	if b.session == nil {
		b.session = newFakeSession()
	}
	return b.session, nil
}

func (b *fakeBrowser) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

type fakeSession struct {
	mu          sync.Mutex
	pages       map[string]string
	errs        map[string]error
	snapshots   []string
	current     string
	navigated   []string
	foregrounds int
	closed      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{pages: map[string]string{}, errs: map[string]error{}}
}

func (s *fakeSession) Navigate(_ context.Context, rawURL string) (enrich.RenderedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, rawURL)
	if err, ok := s.errs[rawURL]; ok {
		return enrich.RenderedPage{}, err
	}
	html, ok := s.pages[rawURL]
	if !ok {
		return enrich.RenderedPage{}, fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", rawURL)
	}
	s.current = rawURL
	return enrich.RenderedPage{URL: rawURL, StatusCode: http.StatusOK, HTML: html}, nil
}

func (s *fakeSession) Snapshot(context.Context) (enrich.RenderedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return enrich.RenderedPage{}, errors.New("no snapshot")
	}
	html := s.snapshots[0]
	if len(s.snapshots) > 1 {
		s.snapshots = s.snapshots[1:]
	}
	return enrich.RenderedPage{URL: s.current, StatusCode: http.StatusOK, HTML: html}, nil
}

func (s *fakeSession) Foreground(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foregrounds++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakePDF struct {
	text  string
	calls int
}

func (p *fakePDF) ExtractText(context.Context, []byte) (string, error) {
	p.calls++
	if p.text == "" {
		return "", errors.New("no text")
	}
	return p.text, nil
}

func (p *fakePDF) MaxBytes() int { return 1 << 20 }

// recorder captures progress events.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, len(r.events))
	for i, e := range r.events {
		out[i] = e.Stage
	}
	return out
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
