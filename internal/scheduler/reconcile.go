package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// Reconcile requeues jobs the store says are unfinished:
//   - running, not active here, and idle longer than StaleGrace;
//   - failed with domains left, unless a stall recovery already failed;
//   - completed with domains left.
//
// Jobs that reached MaxAttempts are not requeued; a stale one is marked
// failed instead. It returns how many jobs were requeued.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	now := c.clock.Now()
	requeued := 0

	running, err := c.cache.ListJobs(ctx, enrich.JobStatusRunning, 0)
	if err != nil {
		return requeued, fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range running {
		if c.cache.Active(job.ID) || now.Sub(job.UpdatedAt) < c.cfg.StaleGrace {
			continue
		}
		if job.Attempts >= c.cfg.MaxAttempts {
			if err := c.abandon(ctx, job); err != nil {
				return requeued, err
			}
			continue
		}
		if err := c.requeue(ctx, job, enrich.ResumeStalled); err != nil {
			return requeued, err
		}
		requeued++
	}

	failed, err := c.cache.ListJobs(ctx, enrich.JobStatusFailed, 0)
	if err != nil {
		return requeued, fmt.Errorf("list failed jobs: %w", err)
	}
	for _, job := range failed {
		if job.IsComplete() || job.ResumeReason == enrich.ResumeStalled || job.Attempts >= c.cfg.MaxAttempts {
			continue
		}
		if err := c.requeue(ctx, job, enrich.ResumeFailed); err != nil {
			return requeued, err
		}
		requeued++
	}

	completed, err := c.cache.ListJobs(ctx, enrich.JobStatusCompleted, 0)
	if err != nil {
		return requeued, fmt.Errorf("list completed jobs: %w", err)
	}
	for _, job := range completed {
		if job.IsComplete() || job.Attempts >= c.cfg.MaxAttempts {
			continue
		}
		if err := c.requeue(ctx, job, enrich.ResumeIncompleteCompleted); err != nil {
			return requeued, err
		}
		requeued++
	}

	if requeued > 0 {
		c.logger.Info("reconciliation requeued jobs", zap.Int("count", requeued))
		c.notify()
	}
	return requeued, nil
}

func (c *Coordinator) requeue(ctx context.Context, job enrich.Job, reason enrich.ResumeReason) error {
	c.logger.Info("requeueing job",
		zap.String("job_id", job.ID),
		zap.String("from", string(job.Status)),
		zap.String("resume_reason", string(reason)),
		zap.Int("processed", job.Processed()+job.Skipped()),
		zap.Int("total", job.Total()),
		zap.Int("attempts", job.Attempts),
	)
	job.Status = enrich.JobStatusQueued
	job.ResumeReason = reason
	job.CurrentDomain = ""
	job.FinishedAt = nil
	job.UpdatedAt = c.clock.Now()
	if err := c.cache.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	return nil
}

func (c *Coordinator) abandon(ctx context.Context, job enrich.Job) error {
	now := c.clock.Now()
	job.Status = enrich.JobStatusFailed
	job.ResumeReason = enrich.ResumeStalled
	job.ErrorText = fmt.Sprintf("stalled after %d attempts", job.Attempts)
	job.FinishedAt = &now
	job.UpdatedAt = now
	c.logger.Warn("giving up on job", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts))
	if err := c.cache.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("abandon job %s: %w", job.ID, err)
	}
	return nil
}
