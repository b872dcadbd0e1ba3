package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/storage/memory"
)

func TestPermitPoolBoundsRunningJobs(t *testing.T) {
	t.Parallel()

	cache := NewJobCache(memory.NewJobStore())
	runner := &slowRunner{store: cache, hold: 20 * time.Millisecond}
	c := New(cache, runner, enrich.SystemClock{}, Config{Tick: 5 * time.Millisecond, MaxConcurrentJobs: 2}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 10; i++ {
		_, err := c.Enqueue(ctx, fmt.Sprintf("job-%02d", i), []string{fmt.Sprintf("d%d.ru", i)})
		require.NoError(t, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		done, err := cache.ListJobs(context.Background(), enrich.JobStatusCompleted, 0)
		return err == nil && len(done) == 10
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	require.EqualValues(t, 10, runner.runs.Load())
	require.LessOrEqual(t, runner.peak.Load(), int32(2))
	require.Empty(t, c.Running())
}

func TestStoredRunningJobsNeverExceedCapacity(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	cache := NewJobCache(store)
	runner := &gatedRunner{store: cache, release: make(chan struct{})}
	c := New(cache, runner, enrich.SystemClock{}, Config{Tick: 2 * time.Millisecond, MaxConcurrentJobs: 3}, zap.NewNop())
	capacity := c.Capacity()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const jobs = 12
	for i := 0; i < jobs; i++ {
		_, err := c.Enqueue(ctx, fmt.Sprintf("job-%02d", i), []string{fmt.Sprintf("d%d.ru", i)})
		require.NoError(t, err)
	}

	// Sample the durable store for the whole run, not just the runners.
	var peak atomic.Int32
	stopSampling := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stopSampling:
				return
			default:
			}
			running, err := store.ListJobs(context.Background(), enrich.JobStatusRunning, 0)
			if err == nil {
				raisePeak(&peak, int32(len(running)))
			}
			time.Sleep(200 * time.Microsecond)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		return runner.active.Load() == int32(capacity)
	}, 2*time.Second, 2*time.Millisecond)

	// Runners are blocked: several more ticks must not admit anything.
	for i := 0; i < 20; i++ {
		running, err := store.ListJobs(ctx, enrich.JobStatusRunning, 0)
		require.NoError(t, err)
		require.LessOrEqual(t, len(running), capacity)
		queued, err := store.ListJobs(ctx, enrich.JobStatusQueued, 0)
		require.NoError(t, err)
		require.Len(t, queued, jobs-capacity)
		time.Sleep(2 * time.Millisecond)
	}

	close(runner.release)
	require.Eventually(t, func() bool {
		done, err := store.ListJobs(context.Background(), enrich.JobStatusCompleted, 0)
		return err == nil && len(done) == jobs
	}, 5*time.Second, 5*time.Millisecond)

	queued, err := store.ListJobs(ctx, enrich.JobStatusQueued, 0)
	require.NoError(t, err)
	require.Empty(t, queued)

	close(stopSampling)
	<-sampled
	require.LessOrEqual(t, int(peak.Load()), capacity)
	require.Positive(t, peak.Load())

	cancel()
	require.NoError(t, <-errCh)
}

func raisePeak(peak *atomic.Int32, n int32) {
	for {
		p := peak.Load()
		if n <= p || peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func TestCapacityIsClamped(t *testing.T) {
	t.Parallel()

	c := New(NewJobCache(memory.NewJobStore()), &slowRunner{}, nil, Config{MaxConcurrentJobs: 12}, nil)
	require.Equal(t, MaxConcurrentJobsCeiling, c.Capacity())

	c = New(NewJobCache(memory.NewJobStore()), &slowRunner{}, nil, Config{}, nil)
	require.Equal(t, 2, c.Capacity())
}

func TestEnqueueValidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(NewJobCache(memory.NewJobStore()), &slowRunner{}, nil, Config{}, zap.NewNop())

	_, err := c.Enqueue(ctx, "empty", []string{"", "  "})
	require.ErrorIs(t, err, ErrNoDomains)

	job, err := c.Enqueue(ctx, "job-1", []string{"https://www.A.ru/contacts", "a.ru", "b.ru"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.ru", "b.ru"}, job.Domains)

	_, err = c.Enqueue(ctx, "job-1", []string{"c.ru"})
	require.ErrorIs(t, err, enrich.ErrJobExists)

	status, err := c.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, enrich.JobStatusQueued, status.Status)

	_, err = c.Status(ctx, "missing")
	require.ErrorIs(t, err, enrich.ErrJobNotFound)
}

func TestTickSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	c := New(NewJobCache(brokenStore{memory.NewJobStore()}), &slowRunner{}, nil, Config{}, zap.NewNop())
	err := c.Tick(context.Background())
	require.ErrorContains(t, err, "connection refused")
}

func TestBackoffIsCappedWithJitter(t *testing.T) {
	t.Parallel()

	b := backoff{initial: 100 * time.Millisecond, max: time.Second}
	for failures, ceiling := range map[int]time.Duration{
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		3:  400 * time.Millisecond,
		10: time.Second,
	} {
		d := b.Delay(failures)
		require.GreaterOrEqual(t, d, ceiling/2, "failures=%d", failures)
		require.LessOrEqual(t, d, ceiling, "failures=%d", failures)
	}
}

func TestJobCacheServesInFlightSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewJobStore()
	cache := NewJobCache(store)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.CreateJob(ctx, enrich.NewJob("job-1", []string{"a.ru", "b.ru"}, now)))

	job, err := cache.ClaimJob(ctx, "job-1", now)
	require.NoError(t, err)
	require.True(t, cache.Active("job-1"))

	job.CurrentDomain = "a.ru"
	require.NoError(t, cache.SaveJob(ctx, job))
	got, err := cache.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "a.ru", got.CurrentDomain)

	// Writes that bypass the cache stay invisible until the job is released.
	job.CurrentDomain = "b.ru"
	require.NoError(t, store.SaveJob(ctx, job))
	got, err = cache.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "a.ru", got.CurrentDomain)

	cache.Release("job-1")
	require.False(t, cache.Active("job-1"))
	got, err = cache.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "b.ru", got.CurrentDomain)
}
