// Package postgres provides the shared Postgres job store and the supplier
// lookup used to skip already-resolved domains.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the stores use.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore persists jobs in Postgres with typed columns and JSONB lists.
type JobStore struct {
	pool  pool
	table string
}

// NewPool opens a pgx pool from the config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// NewJobStore wraps a pool. An empty table defaults to enrichment_jobs.
func NewJobStore(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "enrichment_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: p, table: table}, nil
}

// Migrate creates the job table when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id              TEXT PRIMARY KEY,
	schema_version  INTEGER NOT NULL,
	status          TEXT NOT NULL,
	domains         JSONB NOT NULL,
	results         JSONB NOT NULL,
	skipped_domains JSONB NOT NULL,
	current_domain  TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	picked_at       TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	resume_reason   TEXT NOT NULL DEFAULT '',
	error_text      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_status_created_idx ON %[1]s (status, created_at);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJob inserts a new job.
func (s *JobStore) CreateJob(ctx context.Context, job enrich.Job) error {
	row, err := storage.EncodeJob(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING`, s.table, storage.JobColumns)
	tag, err := s.pool.Exec(ctx, query, row.Args()...)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, enrich.ErrJobExists)
	}
	return nil
}

// GetJob loads a job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (enrich.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, storage.JobColumns, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query, jobID), "get", jobID)
}

// SaveJob overwrites the mutable columns of a job.
func (s *JobStore) SaveJob(ctx context.Context, job enrich.Job) error {
	row, err := storage.EncodeJob(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET
	schema_version = $2, status = $3, domains = $4, results = $5, skipped_domains = $6,
	current_domain = $7, attempts = $8, picked_at = $9, updated_at = $10, finished_at = $11,
	resume_reason = $12, error_text = $13
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		row.ID, row.SchemaVersion, row.Status, row.Domains, row.Results, row.SkippedDomains,
		row.CurrentDomain, row.Attempts, row.PickedAt, row.UpdatedAt, row.FinishedAt,
		row.ResumeReason, row.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save job %s: %w", job.ID, enrich.ErrJobNotFound)
	}
	return nil
}

// ClaimJob moves a queued job to running in one conditional update.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string, pickedAt time.Time) (enrich.Job, error) {
	query := fmt.Sprintf(`UPDATE %s
SET status = $2, picked_at = $3, updated_at = $3, attempts = attempts + 1
WHERE id = $1 AND status = $4
RETURNING %s`, s.table, storage.JobColumns)
	job, err := s.scanOne(
		s.pool.QueryRow(ctx, query, jobID, string(enrich.JobStatusRunning), pickedAt.UTC(), string(enrich.JobStatusQueued)),
		"claim", jobID,
	)
	if !errors.Is(err, enrich.ErrJobNotFound) {
		return job, err
	}
	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return enrich.Job{}, getErr
	}
	return enrich.Job{}, fmt.Errorf("claim job %s (%s): %w", jobID, current.Status, enrich.ErrJobNotClaimable)
}

// ListJobs returns jobs in a status, oldest first.
func (s *JobStore) ListJobs(ctx context.Context, status enrich.JobStatus, limit int) ([]enrich.Job, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at, id LIMIT $2`,
		storage.JobColumns, s.table)
	rows, err := s.pool.Query(ctx, query, string(status), limitArg)
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

func (s *JobStore) scanOne(r pgx.Row, verb, jobID string) (enrich.Job, error) {
	var row storage.JobRow
	if err := r.Scan(row.Dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return enrich.Job{}, fmt.Errorf("%s job %s: %w", verb, jobID, enrich.ErrJobNotFound)
		}
		return enrich.Job{}, fmt.Errorf("%s job %s: %w", verb, jobID, err)
	}
	return storage.DecodeJob(row)
}

