package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// JobStore keeps enrichment jobs in memory for development and tests.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]enrich.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]enrich.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job enrich.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, enrich.ErrJobExists)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (enrich.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return enrich.Job{}, fmt.Errorf("get job %s: %w", jobID, enrich.ErrJobNotFound)
	}
	return job.Clone(), nil
}

// SaveJob replaces the stored record.
func (s *JobStore) SaveJob(_ context.Context, job enrich.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("save job %s: %w", job.ID, enrich.ErrJobNotFound)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// ClaimJob moves a queued job to running.
func (s *JobStore) ClaimJob(_ context.Context, jobID string, pickedAt time.Time) (enrich.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return enrich.Job{}, fmt.Errorf("claim job %s: %w", jobID, enrich.ErrJobNotFound)
	}
	if job.Status != enrich.JobStatusQueued {
		return enrich.Job{}, fmt.Errorf("claim job %s (%s): %w", jobID, job.Status, enrich.ErrJobNotClaimable)
	}
	job.Status = enrich.JobStatusRunning
	job.PickedAt = pointerTime(pickedAt)
	job.UpdatedAt = pickedAt
	job.Attempts++
	s.jobs[jobID] = job
	return job.Clone(), nil
}

// ListJobs returns jobs in a status, oldest first. A non-positive limit
// returns all of them.
func (s *JobStore) ListJobs(_ context.Context, status enrich.JobStatus, limit int) ([]enrich.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]enrich.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
