package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// JobCache is a write-through JobStore decorator that keeps the latest
// snapshot of every job running in this process. Reads hit the in-flight
// snapshot first and fall back to the store; the cache is never consulted
// for jobs this process is not running, so it carries nothing across
// restarts.
type JobCache struct {
	enrich.JobStore

	mu       sync.RWMutex
	inflight map[string]enrich.Job
}

// NewJobCache wraps store.
func NewJobCache(store enrich.JobStore) *JobCache {
	return &JobCache{JobStore: store, inflight: make(map[string]enrich.Job)}
}

// GetJob returns the in-flight snapshot when there is one.
func (c *JobCache) GetJob(ctx context.Context, jobID string) (enrich.Job, error) {
	c.mu.RLock()
	job, ok := c.inflight[jobID]
	c.mu.RUnlock()
	if ok {
		return job.Clone(), nil
	}
	job, err := c.JobStore.GetJob(ctx, jobID)
	if err != nil {
		return enrich.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// SaveJob writes to the store, then refreshes the snapshot of an in-flight
// job.
func (c *JobCache) SaveJob(ctx context.Context, job enrich.Job) error {
	if err := c.JobStore.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	c.mu.Lock()
	if _, ok := c.inflight[job.ID]; ok {
		c.inflight[job.ID] = job.Clone()
	}
	c.mu.Unlock()
	return nil
}

// ClaimJob claims through the store and starts tracking the job.
func (c *JobCache) ClaimJob(ctx context.Context, jobID string, pickedAt time.Time) (enrich.Job, error) {
	job, err := c.JobStore.ClaimJob(ctx, jobID, pickedAt)
	if err != nil {
		return enrich.Job{}, fmt.Errorf("claim job: %w", err)
	}
	c.mu.Lock()
	c.inflight[job.ID] = job.Clone()
	c.mu.Unlock()
	return job, nil
}

// Release stops tracking a job once its goroutine has returned.
func (c *JobCache) Release(jobID string) {
	c.mu.Lock()
	delete(c.inflight, jobID)
	c.mu.Unlock()
}

// Active reports whether this process is running the job.
func (c *JobCache) Active(jobID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.inflight[jobID]
	return ok
}

// ActiveIDs lists the jobs this process is running.
func (c *JobCache) ActiveIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.inflight))
	for id := range c.inflight {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
