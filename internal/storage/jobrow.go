// Package storage holds the row codec shared by the SQL job stores. The
// concrete stores live in the sqlite, postgres and memory subpackages.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// JobColumns lists the job table columns in scan order.
const JobColumns = "id, schema_version, status, domains, results, skipped_domains, current_domain, " +
	"attempts, created_at, picked_at, updated_at, finished_at, resume_reason, error_text"

// JobRow is the column-level shape of a job. Lists are JSON encoded.
type JobRow struct {
	ID             string
	SchemaVersion  int
	Status         string
	Domains        []byte
	Results        []byte
	SkippedDomains []byte
	CurrentDomain  string
	Attempts       int
	CreatedAt      time.Time
	PickedAt       *time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
	ResumeReason   string
	ErrorText      string
}

// Dest returns scan destinations in JobColumns order.
func (r *JobRow) Dest() []any {
	return []any{
		&r.ID, &r.SchemaVersion, &r.Status, &r.Domains, &r.Results, &r.SkippedDomains,
		&r.CurrentDomain, &r.Attempts, &r.CreatedAt, &r.PickedAt, &r.UpdatedAt,
		&r.FinishedAt, &r.ResumeReason, &r.ErrorText,
	}
}

// Args returns the row values in JobColumns order.
func (r JobRow) Args() []any {
	return []any{
		r.ID, r.SchemaVersion, r.Status, r.Domains, r.Results, r.SkippedDomains,
		r.CurrentDomain, r.Attempts, r.CreatedAt, r.PickedAt, r.UpdatedAt,
		r.FinishedAt, r.ResumeReason, r.ErrorText,
	}
}

// EncodeJob flattens a job into a row.
func EncodeJob(job enrich.Job) (JobRow, error) {
	domains, err := marshalList(job.Domains)
	if err != nil {
		return JobRow{}, fmt.Errorf("encode domains: %w", err)
	}
	results := job.Results
	if results == nil {
		results = []enrich.ExtractionResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return JobRow{}, fmt.Errorf("encode results: %w", err)
	}
	skipped, err := marshalList(job.SkippedDomains)
	if err != nil {
		return JobRow{}, fmt.Errorf("encode skipped domains: %w", err)
	}
	version := job.SchemaVersion
	if version == 0 {
		version = enrich.JobSchemaVersion
	}
	return JobRow{
		ID:             job.ID,
		SchemaVersion:  version,
		Status:         string(job.Status),
		Domains:        domains,
		Results:        resultsJSON,
		SkippedDomains: skipped,
		CurrentDomain:  job.CurrentDomain,
		Attempts:       job.Attempts,
		CreatedAt:      job.CreatedAt.UTC(),
		PickedAt:       utcPtr(job.PickedAt),
		UpdatedAt:      job.UpdatedAt.UTC(),
		FinishedAt:     utcPtr(job.FinishedAt),
		ResumeReason:   string(job.ResumeReason),
		ErrorText:      job.ErrorText,
	}, nil
}

// DecodeJob rebuilds a job from a row.
func DecodeJob(r JobRow) (enrich.Job, error) {
	if r.SchemaVersion > enrich.JobSchemaVersion {
		return enrich.Job{}, fmt.Errorf("job %s has schema version %d, newer than %d", r.ID, r.SchemaVersion, enrich.JobSchemaVersion)
	}
	job := enrich.Job{
		ID:            r.ID,
		SchemaVersion: r.SchemaVersion,
		Status:        enrich.JobStatus(r.Status),
		CurrentDomain: r.CurrentDomain,
		Attempts:      r.Attempts,
		CreatedAt:     r.CreatedAt.UTC(),
		PickedAt:      utcPtr(r.PickedAt),
		UpdatedAt:     r.UpdatedAt.UTC(),
		FinishedAt:    utcPtr(r.FinishedAt),
		ResumeReason:  enrich.ResumeReason(r.ResumeReason),
		ErrorText:     r.ErrorText,
	}
	if err := unmarshalList(r.Domains, &job.Domains); err != nil {
		return enrich.Job{}, fmt.Errorf("decode domains of %s: %w", r.ID, err)
	}
	if err := unmarshalList(r.Results, &job.Results); err != nil {
		return enrich.Job{}, fmt.Errorf("decode results of %s: %w", r.ID, err)
	}
	if err := unmarshalList(r.SkippedDomains, &job.SkippedDomains); err != nil {
		return enrich.Job{}, fmt.Errorf("decode skipped domains of %s: %w", r.ID, err)
	}
	return job, nil
}

func marshalList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func unmarshalList[T any](data []byte, out *[]T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
