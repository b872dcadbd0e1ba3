package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// MaxConcurrentJobsCeiling bounds the permit pool whatever the configuration
// asks for. Each running job may hold a browser tab.
const MaxConcurrentJobsCeiling = 5

// ErrNoDomains rejects a job without a single usable domain.
var ErrNoDomains = errors.New("at least one domain is required")

// Runner executes a claimed job. worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context, job enrich.Job) (enrich.Job, error)
}

// Config tunes the coordinator.
type Config struct {
	Tick              time.Duration
	BatchSize         int
	MaxConcurrentJobs int
	// StaleGrace is how long a running job may go without an update before
	// reconciliation treats it as abandoned.
	StaleGrace        time.Duration
	ReconcileInterval time.Duration
	// MaxAttempts stops requeueing a job that keeps failing.
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 2
	}
	if c.MaxConcurrentJobs > MaxConcurrentJobsCeiling {
		c.MaxConcurrentJobs = MaxConcurrentJobsCeiling
	}
	if c.StaleGrace <= 0 {
		c.StaleGrace = 5 * time.Minute
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
}

// Coordinator is the single admission loop. Each admitted job runs on its
// own goroutine holding one permit.
type Coordinator struct {
	cache   *JobCache
	runner  Runner
	clock   enrich.Clock
	cfg     Config
	logger  *zap.Logger
	permits *semaphore.Weighted
	backoff backoff
	wake    chan struct{}
	wg      sync.WaitGroup

	mu            sync.Mutex
	lastReconcile time.Time
}

// New builds a Coordinator. cache must be the same JobCache the runner
// saves through so status reads see live progress.
func New(cache *JobCache, runner Runner, clock enrich.Clock, cfg Config, logger *zap.Logger) *Coordinator {
	cfg.applyDefaults()
	if clock == nil {
		clock = enrich.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cache:   cache,
		runner:  runner,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("scheduler"),
		permits: semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		backoff: backoff{initial: cfg.BackoffInitial, max: cfg.BackoffMax},
		wake:    make(chan struct{}, 1),
	}
}

// Capacity is the effective permit pool size.
func (c *Coordinator) Capacity() int {
	return c.cfg.MaxConcurrentJobs
}

// Start runs the admission loop until ctx ends, then waits for running jobs
// to return. Interrupted jobs stay running in the store and are picked up
// by reconciliation on the next start.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("coordinator started",
		zap.Int("max_concurrent_jobs", c.cfg.MaxConcurrentJobs),
		zap.Duration("tick", c.cfg.Tick),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping, waiting for running jobs", zap.Strings("running", c.Running()))
			c.wg.Wait()
			return nil
		case <-timer.C:
		case <-c.wake:
		}

		next := c.cfg.Tick
		if err := c.Tick(ctx); err != nil && ctx.Err() == nil {
			failures++
			next = c.backoff.Delay(failures)
			c.logger.Warn("scheduler tick failed", zap.Error(err), zap.Int("failures", failures), zap.Duration("retry_in", next))
		} else {
			failures = 0
		}
		timer.Reset(next)
	}
}

// Tick reconciles when due and admits as many queued jobs as permits allow.
func (c *Coordinator) Tick(ctx context.Context) error {
	if c.reconcileDue() {
		if _, err := c.Reconcile(ctx); err != nil {
			return err
		}
	}
	_, err := c.admit(ctx)
	return err
}

func (c *Coordinator) reconcileDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if !c.lastReconcile.IsZero() && now.Sub(c.lastReconcile) < c.cfg.ReconcileInterval {
		return false
	}
	c.lastReconcile = now
	return true
}

// admit claims queued jobs oldest first while permits remain.
func (c *Coordinator) admit(ctx context.Context) (int, error) {
	queued, err := c.cache.ListJobs(ctx, enrich.JobStatusQueued, c.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	started := 0
	for _, job := range queued {
		if !c.permits.TryAcquire(1) {
			break
		}
		claimed, err := c.cache.ClaimJob(ctx, job.ID, c.clock.Now())
		if err != nil {
			c.permits.Release(1)
			if errors.Is(err, enrich.ErrJobNotClaimable) {
				c.logger.Debug("job claimed elsewhere", zap.String("job_id", job.ID))
				continue
			}
			return started, err
		}
		started++
		c.wg.Add(1)
		go c.run(ctx, claimed)
	}
	return started, nil
}

func (c *Coordinator) run(ctx context.Context, job enrich.Job) {
	defer c.wg.Done()
	defer c.permits.Release(1)
	defer c.cache.Release(job.ID)

	done, err := c.runner.Run(ctx, job)
	logger := c.logger.With(zap.String("job_id", job.ID), zap.String("status", string(done.Status)))
	if err != nil {
		logger.Warn("job returned error", zap.Error(err))
	} else {
		logger.Info("job finished", zap.Int("processed", done.Processed()), zap.Int("total", done.Total()))
	}
	c.notify()
}

// Enqueue creates a queued job and wakes the admission loop.
func (c *Coordinator) Enqueue(ctx context.Context, jobID string, domains []string) (enrich.Job, error) {
	job := enrich.NewJob(jobID, domains, c.clock.Now())
	if job.Total() == 0 {
		return enrich.Job{}, ErrNoDomains
	}
	if err := c.cache.CreateJob(ctx, job); err != nil {
		return enrich.Job{}, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	c.logger.Info("job enqueued", zap.String("job_id", jobID), zap.Int("domains", job.Total()))
	c.notify()
	return job, nil
}

// Status returns the live state of a job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (enrich.Job, error) {
	return c.cache.GetJob(ctx, jobID)
}

// List returns jobs in a status, oldest first.
func (c *Coordinator) List(ctx context.Context, status enrich.JobStatus, limit int) ([]enrich.Job, error) {
	jobs, err := c.cache.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	return jobs, nil
}

// Running lists the jobs this process is executing.
func (c *Coordinator) Running() []string {
	return c.cache.ActiveIDs()
}

// Wait blocks until every admitted job has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
