package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// slowRunner completes every job after hold and tracks peak concurrency.
type slowRunner struct {
	store  enrich.JobStore
	hold   time.Duration
	active atomic.Int32
	peak   atomic.Int32
	runs   atomic.Int32
}

func (r *slowRunner) Run(ctx context.Context, job enrich.Job) (enrich.Job, error) {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(r.hold)
	r.active.Add(-1)

	for _, d := range job.RemainingDomains() {
		job.RecordResult(enrich.ExtractionResult{Domain: d}, time.Now())
	}
	job.Status = enrich.JobStatusCompleted
	r.runs.Add(1)
	return job, r.store.SaveJob(ctx, job)
}

// gatedRunner holds every job until release is closed.
type gatedRunner struct {
	store   enrich.JobStore
	release chan struct{}
	active  atomic.Int32
}

func (r *gatedRunner) Run(ctx context.Context, job enrich.Job) (enrich.Job, error) {
	r.active.Add(1)
	defer r.active.Add(-1)
	select {
	case <-r.release:
	case <-ctx.Done():
		return job, ctx.Err()
	}
	for _, d := range job.RemainingDomains() {
		job.RecordResult(enrich.ExtractionResult{Domain: d}, time.Now())
	}
	job.Status = enrich.JobStatusCompleted
	return job, r.store.SaveJob(ctx, job)
}

// brokenStore fails every listing.
type brokenStore struct {
	enrich.JobStore
}

func (brokenStore) ListJobs(context.Context, enrich.JobStatus, int) ([]enrich.Job, error) {
	return nil, errors.New("connection refused")
}
