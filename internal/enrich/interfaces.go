package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Job store errors.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already exists")
	ErrJobNotClaimable = errors.New("job is not queued")
)

// JobStore persists enrichment jobs. It is the source of truth for resume
// decisions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// SaveJob upserts the full record; last write wins.
	SaveJob(ctx context.Context, job Job) error
	// ClaimJob atomically moves a queued job to running.
	ClaimJob(ctx context.Context, jobID string, pickedAt time.Time) (Job, error)
	// ListJobs returns jobs in the given status ordered by creation time.
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error)
}

// LearningStore remembers which URL patterns produced data per domain.
type LearningStore interface {
	PriorityURLs(domain string, dataType DataType) []string
	SaveStrategyResult(domain string, strategy Strategy, foundTaxID, foundEmail bool, elapsed time.Duration) error
	// SaveEmailSource learns the page, named by strategy's detail, that
	// yielded a domain's emails.
	SaveEmailSource(domain string, strategy Strategy) error
}

// SupplierRegistry is the boundary to the supplier-record subsystem.
type SupplierRegistry interface {
	IsResolved(ctx context.Context, domain string) (bool, error)
	UpsertSupplier(ctx context.Context, record SupplierRecord) error
	FlagForModeration(ctx context.Context, domain, reason string) error
}

// BlobStore persists extraction audit artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FetchResponse is one downloaded document.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StatusError reports a response that arrived with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Fetcher issues plain HTTP GETs. Non-2xx responses fail with *StatusError.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// ErrDownloadTriggered reports that a browser navigation turned into a file
// download instead of rendering a document.
var ErrDownloadTriggered = errors.New("navigation triggered a download")

// RenderedPage is the DOM of a browser tab after rendering.
type RenderedPage struct {
	URL        string
	StatusCode int
	HTML       string
	Title      string
}

// Browser starts rendering sessions.
type Browser interface {
	NewSession(ctx context.Context) (BrowserSession, error)
}

// BrowserSession is one tab reused for every page of a job.
type BrowserSession interface {
	Navigate(ctx context.Context, rawURL string) (RenderedPage, error)
	// Snapshot re-reads the current tab without navigating.
	Snapshot(ctx context.Context) (RenderedPage, error)
	// Foreground enlarges and raises the window for an operator.
	Foreground(ctx context.Context) error
	Close() error
}
