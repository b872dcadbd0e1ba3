package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

func openStore(t *testing.T) (*JobStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job := enrich.NewJob("job-1", []string{"a.ru", "b.ru"}, now)

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), enrich.ErrJobExists)
	require.NoError(t, store.Ping(ctx))

	claimed, err := store.ClaimJob(ctx, "job-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, enrich.JobStatusRunning, claimed.Status)
	require.Equal(t, 1, claimed.Attempts)
	require.Equal(t, now.Add(time.Minute), *claimed.PickedAt)

	_, err = store.ClaimJob(ctx, "job-1", now)
	require.ErrorIs(t, err, enrich.ErrJobNotClaimable)
	_, err = store.ClaimJob(ctx, "nope", now)
	require.ErrorIs(t, err, enrich.ErrJobNotFound)

	tax := "7707083893"
	claimed.RecordResult(enrich.ExtractionResult{Domain: "a.ru", TaxID: &tax, Emails: []string{"x@a.ru"}}, now)
	claimed.CurrentDomain = "b.ru"
	require.NoError(t, store.SaveJob(ctx, claimed))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, []string{"b.ru"}, got.RemainingDomains())
	require.Equal(t, "b.ru", got.CurrentDomain)
	require.Equal(t, tax, *got.Results[0].TaxID)

	require.ErrorIs(t, store.SaveJob(ctx, enrich.Job{ID: "nope"}), enrich.ErrJobNotFound)
}

func TestJobsSurviveReopen(t *testing.T) {
	t.Parallel()

	store, path := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"late", "early"} {
		created := now.Add(-time.Duration(i) * time.Hour)
		require.NoError(t, store.CreateJob(ctx, enrich.NewJob(id, []string{"x.ru"}, created)))
	}
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	jobs, err := reopened.ListJobs(ctx, enrich.JobStatusQueued, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "early", jobs[0].ID)
	require.Equal(t, "late", jobs[1].ID)

	limited, err := reopened.ListJobs(ctx, enrich.JobStatusQueued, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	running, err := reopened.ListJobs(ctx, enrich.JobStatusRunning, 10)
	require.NoError(t, err)
	require.Empty(t, running)
}
