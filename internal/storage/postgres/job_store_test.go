package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

var jobCols = []string{
	"id", "schema_version", "status", "domains", "results", "skipped_domains", "current_domain",
	"attempts", "created_at", "picked_at", "updated_at", "finished_at", "resume_reason", "error_text",
}

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStore(mock, "")
	require.NoError(t, err)
	return store, mock
}

func jobRow(mock pgxmock.PgxPoolIface, status enrich.JobStatus, picked *time.Time, attempts int) *pgxmock.Rows {
	return mock.NewRows(jobCols).AddRow(
		"job-1", enrich.JobSchemaVersion, string(status),
		[]byte(`["a.ru","b.ru"]`),
		[]byte(`[{"domain":"a.ru","tax_id":"7707083893","emails":["x@a.ru"],"source_urls":[],"strategy_used":"http_direct:/","strategy_time_ms":12}]`),
		[]byte(`[]`), "", attempts, testNow, picked, testNow, (*time.Time)(nil), "", "",
	)
}

func TestNewJobStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStore(mock, "jobs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewJobStore(nil, "")
	require.Error(t, err)
}

func TestCreateJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := enrich.NewJob("job-1", []string{"a.ru"}, testNow)

	mock.ExpectExec("INSERT INTO enrichment_jobs").
		WithArgs(
			"job-1", enrich.JobSchemaVersion, "queued", []byte(`["a.ru"]`), []byte(`[]`), []byte(`[]`),
			"", 0, testNow, (*time.Time)(nil), testNow, (*time.Time)(nil), "", "",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateJob(context.Background(), job))

	mock.ExpectExec("INSERT INTO enrichment_jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	require.ErrorIs(t, store.CreateJob(context.Background(), job), enrich.ErrJobExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM enrichment_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRow(mock, enrich.JobStatusQueued, nil, 0))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, []string{"a.ru", "b.ru"}, job.Domains)
	require.Equal(t, "7707083893", *job.Results[0].TaxID)
	require.Equal(t, []string{"b.ru"}, job.RemainingDomains())

	mock.ExpectQuery("SELECT .* FROM enrichment_jobs WHERE id").
		WithArgs("missing").
		WillReturnRows(mock.NewRows(jobCols))
	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, enrich.ErrJobNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	picked := testNow.Add(time.Minute)

	mock.ExpectQuery("UPDATE enrichment_jobs").
		WithArgs("job-1", "running", picked, "queued").
		WillReturnRows(jobRow(mock, enrich.JobStatusRunning, &picked, 1))
	job, err := store.ClaimJob(context.Background(), "job-1", picked)
	require.NoError(t, err)
	require.Equal(t, enrich.JobStatusRunning, job.Status)
	require.Equal(t, 1, job.Attempts)

	// A second claim finds nothing to update; the follow-up read explains why.
	mock.ExpectQuery("UPDATE enrichment_jobs").
		WithArgs("job-1", "running", picked, "queued").
		WillReturnRows(mock.NewRows(jobCols))
	mock.ExpectQuery("SELECT .* FROM enrichment_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRow(mock, enrich.JobStatusRunning, &picked, 1))
	_, err = store.ClaimJob(context.Background(), "job-1", picked)
	require.ErrorIs(t, err, enrich.ErrJobNotClaimable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := enrich.NewJob("job-1", []string{"a.ru"}, testNow)
	job.Status = enrich.JobStatusCompleted
	job.FinishedAt = &testNow

	mock.ExpectExec("UPDATE enrichment_jobs SET").
		WithArgs("job-1", enrich.JobSchemaVersion, "completed", []byte(`["a.ru"]`), []byte(`[]`), []byte(`[]`),
			"", 0, (*time.Time)(nil), testNow, &testNow, "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.SaveJob(context.Background(), job))

	mock.ExpectExec("UPDATE enrichment_jobs SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.SaveJob(context.Background(), job), enrich.ErrJobNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM enrichment_jobs WHERE status").
		WithArgs("queued", 5).
		WillReturnRows(jobRow(mock, enrich.JobStatusQueued, nil, 0))
	jobs, err := store.ListJobs(context.Background(), enrich.JobStatusQueued, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	mock.ExpectQuery("SELECT .* FROM enrichment_jobs WHERE status").
		WithArgs("failed", nil).
		WillReturnError(errors.New("connection reset"))
	_, err = store.ListJobs(context.Background(), enrich.JobStatusFailed, 0)
	require.ErrorContains(t, err, "connection reset")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplierLookup(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	lookup, err := NewSupplierLookup(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("a.ru").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	resolved, err := lookup.IsResolved(context.Background(), "https://www.a.ru/contacts")
	require.NoError(t, err)
	require.True(t, resolved)

	resolved, err = lookup.IsResolved(context.Background(), "")
	require.NoError(t, err)
	require.False(t, resolved)

	require.NoError(t, mock.ExpectationsWereMet())
}
