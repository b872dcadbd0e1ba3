// Package worker executes one claimed enrichment job: it walks the job's
// remaining domains through the extraction engine and checkpoints after
// every domain so an interrupted job resumes where it stopped.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/progress"
	"github.com/JakeFAU/inn-enricher/internal/supplier"
)

var tracer = otel.Tracer("github.com/JakeFAU/inn-enricher/internal/worker")

// Extractor extracts domains one after another for a single job.
// engine.Run satisfies it.
type Extractor interface {
	Extract(ctx context.Context, domain string) enrich.ExtractionResult
	Close() error
}

// ExtractorFactory opens an Extractor for a job.
type ExtractorFactory func(jobID string) Extractor

// Config controls Worker behavior.
type Config struct {
	// ArtifactPrefix is the blob path prefix for per-domain audit artifacts.
	ArtifactPrefix string
	// Policy, when set, skips domains it does not allow.
	Policy DomainPolicy
}

// DomainPolicy decides whether a domain is extracted at all.
type DomainPolicy interface {
	AllowDomain(domain string) bool
}

// Worker runs claimed jobs to completion.
type Worker struct {
	store    enrich.JobStore
	registry enrich.SupplierRegistry
	blobs    enrich.BlobStore
	newRun   ExtractorFactory
	progress progress.Emitter
	clock    enrich.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. blobs and events may be nil.
func New(
	store enrich.JobStore,
	registry enrich.SupplierRegistry,
	blobs enrich.BlobStore,
	newRun ExtractorFactory,
	events progress.Emitter,
	clock enrich.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ArtifactPrefix == "" {
		cfg.ArtifactPrefix = "artifacts"
	}
	if events == nil {
		events = progress.Discard
	}
	if clock == nil {
		clock = enrich.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		registry: registry,
		blobs:    blobs,
		newRun:   newRun,
		progress: events,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("worker"),
	}
}

// Run processes the remaining domains of a job that was already claimed.
// It returns the last saved state. When ctx ends mid-job the job stays
// running and is left for reconciliation; a panic or a store error marks it
// failed.
func (w *Worker) Run(ctx context.Context, job enrich.Job) (out enrich.Job, err error) {
	ctx, span := tracer.Start(ctx, "enrichment_job")
	span.SetAttributes(attribute.String("job_id", job.ID), attribute.Int("domains", job.Total()))
	defer span.End()

	logger := w.logger.With(zap.String("job_id", job.ID))
	started := w.clock.Now()
	w.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobStart, Processed: job.Processed(), Total: job.Total()})
	logger.Info("job started",
		zap.Int("total", job.Total()),
		zap.Int("remaining", len(job.RemainingDomains())),
		zap.Int("attempt", job.Attempts),
		zap.String("resume_reason", string(job.ResumeReason)),
	)

	run := w.newRun(job.ID)
	defer func() {
		if closeErr := run.Close(); closeErr != nil {
			logger.Warn("close extractor", zap.Error(closeErr))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out, err = w.fail(ctx, job, fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
		}
	}()

	for _, domain := range job.RemainingDomains() {
		if ctx.Err() != nil {
			logger.Info("job interrupted", zap.Int("processed", job.Processed()))
			return job, ctx.Err()
		}
		job, err = w.processDomain(ctx, run, job, domain)
		if err != nil {
			if ctx.Err() != nil {
				return job, ctx.Err()
			}
			span.RecordError(err)
			return w.fail(ctx, job, err)
		}
	}

	now := w.clock.Now()
	job.Status = enrich.JobStatusCompleted
	job.CurrentDomain = ""
	job.ErrorText = ""
	job.FinishedAt = &now
	job.UpdatedAt = now
	if err := w.store.SaveJob(ctx, job); err != nil {
		span.RecordError(err)
		return w.fail(ctx, job, fmt.Errorf("save completed job: %w", err))
	}
	w.emit(progress.Event{
		JobID:     job.ID,
		Stage:     progress.StageJobDone,
		Processed: job.Processed(),
		Total:     job.Total(),
		Dur:       now.Sub(started),
	})
	logger.Info("job completed",
		zap.Int("processed", job.Processed()),
		zap.Int("skipped", job.Skipped()),
		zap.Duration("elapsed", now.Sub(started)),
	)
	return job, nil
}

// processDomain handles one domain and checkpoints the job. Only store
// errors and cancellation are returned.
func (w *Worker) processDomain(ctx context.Context, run Extractor, job enrich.Job, domain string) (enrich.Job, error) {
	ctx, span := tracer.Start(ctx, "enrich_domain")
	span.SetAttributes(attribute.String("domain", domain))
	defer span.End()

	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("domain", domain))
	job.CurrentDomain = domain
	job.UpdatedAt = w.clock.Now()
	if err := w.store.SaveJob(ctx, job); err != nil {
		return job, fmt.Errorf("checkpoint current domain: %w", err)
	}

	if w.cfg.Policy != nil && !w.cfg.Policy.AllowDomain(domain) {
		job.RecordSkip(domain, w.clock.Now())
		span.SetAttributes(attribute.Bool("skipped", true))
		logger.Info("domain blocked by policy, skipping")
		return job, w.checkpoint(ctx, job, domain)
	}

	resolved, err := w.registry.IsResolved(ctx, domain)
	if err != nil {
		logger.Warn("supplier lookup failed, extracting anyway", zap.Error(err))
	}
	if resolved {
		job.RecordSkip(domain, w.clock.Now())
		span.SetAttributes(attribute.Bool("skipped", true))
		logger.Info("domain already resolved, skipping")
		return job, w.checkpoint(ctx, job, domain)
	}

	started := w.clock.Now()
	result := run.Extract(ctx, domain)
	if ctx.Err() != nil {
		// A result cut short by shutdown is not recorded; the domain reruns on resume.
		return job, ctx.Err()
	}
	result.Domain = domain
	result.LogURI = w.writeArtifact(ctx, job.ID, result)

	if err := supplier.Report(ctx, w.registry, result); err != nil {
		logger.Warn("supplier callback failed", zap.Error(err))
	}

	job.RecordResult(result, w.clock.Now())
	if err := w.checkpoint(ctx, job, domain); err != nil {
		return job, err
	}
	span.SetAttributes(attribute.Bool("tax_id_found", result.HasTaxID()), attribute.String("strategy", string(result.Strategy)))
	w.emit(progress.Event{
		JobID:    job.ID,
		Stage:    progress.StageDomainDone,
		Domain:   domain,
		Strategy: string(result.Strategy),
		Found:    result.HasTaxID(),
		Dur:      w.clock.Now().Sub(started),
		Note:     result.Error,
	})
	return job, nil
}

func (w *Worker) checkpoint(ctx context.Context, job enrich.Job, domain string) error {
	job.UpdatedAt = w.clock.Now()
	if err := w.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("checkpoint after %s: %w", domain, err)
	}
	w.emit(progress.Event{
		JobID:     job.ID,
		Stage:     progress.StageJobCheckpoint,
		Domain:    domain,
		Processed: job.Processed() + job.Skipped(),
		Total:     job.Total(),
	})
	return nil
}

// fail marks the job failed, keeping its partial results.
func (w *Worker) fail(ctx context.Context, job enrich.Job, cause error) (enrich.Job, error) {
	now := w.clock.Now()
	job.Status = enrich.JobStatusFailed
	job.ErrorText = cause.Error()
	job.UpdatedAt = now
	job.FinishedAt = &now
	logger := w.logger.With(zap.String("job_id", job.ID))
	logger.Error("job failed", zap.Error(cause), zap.Int("processed", job.Processed()))
	if err := w.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("save failed job", zap.Error(err))
	}
	w.emit(progress.Event{
		JobID:     job.ID,
		Stage:     progress.StageJobError,
		Processed: job.Processed(),
		Total:     job.Total(),
		Note:      cause.Error(),
	})
	return job, cause
}

// artifact is the audit record written per domain.
type artifact struct {
	JobID   string                  `json:"job_id"`
	Result  enrich.ExtractionResult `json:"result"`
	Log     []enrich.LogEntry       `json:"log"`
	Written time.Time               `json:"written_at"`
}

// writeArtifact stores the extraction log and returns its URI, or "" when
// no blob store is configured or the write failed.
func (w *Worker) writeArtifact(ctx context.Context, jobID string, result enrich.ExtractionResult) string {
	if w.blobs == nil {
		return ""
	}
	body, err := json.Marshal(artifact{JobID: jobID, Result: result, Log: result.Log, Written: w.clock.Now()})
	if err != nil {
		w.logger.Warn("marshal artifact", zap.String("domain", result.Domain), zap.Error(err))
		return ""
	}
	uri, err := w.blobs.PutObject(ctx, w.artifactPath(jobID, result.Domain), "application/json", bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("write artifact", zap.String("domain", result.Domain), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) artifactPath(jobID, domain string) string {
	prefix := strings.Trim(w.cfg.ArtifactPrefix, "/")
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, domain)
}

func (w *Worker) emit(evt progress.Event) {
	evt.TS = w.clock.Now()
	w.progress.Emit(evt)
}
