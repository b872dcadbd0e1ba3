// Package sqlite is the default durable job store, backed by an embedded
// SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/storage"
)

const migration = `
CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id              TEXT PRIMARY KEY,
	schema_version  INTEGER NOT NULL,
	status          TEXT NOT NULL,
	domains         BLOB NOT NULL,
	results         BLOB NOT NULL,
	skipped_domains BLOB NOT NULL,
	current_domain  TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	picked_at       DATETIME,
	updated_at      DATETIME NOT NULL,
	finished_at     DATETIME,
	resume_reason   TEXT NOT NULL DEFAULT '',
	error_text      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_status_created
	ON enrichment_jobs(status, created_at);
`

// JobStore persists jobs in SQLite.
type JobStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, enables WAL and applies the
// schema.
func Open(ctx context.Context, path string) (*JobStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer avoids SQLITE_BUSY between claimers in this process.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, migration); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &JobStore{db: db}, nil
}

// Close releases the database handle.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateJob inserts a new job.
func (s *JobStore) CreateJob(ctx context.Context, job enrich.Job) error {
	row, err := storage.EncodeJob(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (`+storage.JobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		row.Args()...,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, enrich.ErrJobExists)
	}
	return nil
}

// GetJob loads one job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (enrich.Job, error) {
	var row storage.JobRow
	err := s.db.QueryRowContext(ctx,
		`SELECT `+storage.JobColumns+` FROM enrichment_jobs WHERE id = ?`, jobID,
	).Scan(row.Dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return enrich.Job{}, fmt.Errorf("get job %s: %w", jobID, enrich.ErrJobNotFound)
	}
	if err != nil {
		return enrich.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return storage.DecodeJob(row)
}

// SaveJob overwrites every mutable column of an existing job.
func (s *JobStore) SaveJob(ctx context.Context, job enrich.Job) error {
	row, err := storage.EncodeJob(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET
			schema_version = ?, status = ?, domains = ?, results = ?, skipped_domains = ?,
			current_domain = ?, attempts = ?, picked_at = ?, updated_at = ?, finished_at = ?,
			resume_reason = ?, error_text = ?
		WHERE id = ?`,
		row.SchemaVersion, row.Status, row.Domains, row.Results, row.SkippedDomains,
		row.CurrentDomain, row.Attempts, row.PickedAt, row.UpdatedAt, row.FinishedAt,
		row.ResumeReason, row.ErrorText, row.ID,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save job %s: %w", job.ID, enrich.ErrJobNotFound)
	}
	return nil
}

// ClaimJob flips a queued job to running with a conditional update.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string, pickedAt time.Time) (enrich.Job, error) {
	pickedAt = pickedAt.UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs
		SET status = ?, picked_at = ?, updated_at = ?, attempts = attempts + 1
		WHERE id = ? AND status = ?`,
		string(enrich.JobStatusRunning), pickedAt, pickedAt, jobID, string(enrich.JobStatusQueued),
	)
	if err != nil {
		return enrich.Job{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return enrich.Job{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrich.Job{}, fmt.Errorf("claim job %s (%s): %w", jobID, job.Status, enrich.ErrJobNotClaimable)
	}
	return job, nil
}

// ListJobs returns jobs in a status, oldest first.
func (s *JobStore) ListJobs(ctx context.Context, status enrich.JobStatus, limit int) ([]enrich.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storage.JobColumns+` FROM enrichment_jobs
		WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	defer rows.Close()

	var jobs []enrich.Job
	for rows.Next() {
		var row storage.JobRow
		if err := rows.Scan(row.Dest()...); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := storage.DecodeJob(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
