package enrich

import (
	"strings"
	"time"
)

// JobSchemaVersion is stamped on every persisted job record.
const JobSchemaVersion = 1

// JobStatus represents job lifecycle.
type JobStatus string

// Supported job statuses.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ResumeReason records why reconciliation requeued a job.
type ResumeReason string

// Reconciliation resume reasons.
const (
	ResumeNone                ResumeReason = ""
	ResumeStalled             ResumeReason = "stalled_recovered"
	ResumeFailed              ResumeReason = "failed_recovered"
	ResumeIncompleteCompleted ResumeReason = "incomplete_completed_recovered"
)

// Job is the durable enrichment job record.
type Job struct {
	ID             string             `json:"job_id"`
	SchemaVersion  int                `json:"schema_version"`
	Domains        []string           `json:"domains"`
	Status         JobStatus          `json:"status"`
	Results        []ExtractionResult `json:"results"`
	SkippedDomains []string           `json:"skipped_domains"`
	CurrentDomain  string             `json:"current_domain,omitempty"`
	Attempts       int                `json:"attempts"`
	CreatedAt      time.Time          `json:"created_at"`
	PickedAt       *time.Time         `json:"picked_at,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
	ResumeReason   ResumeReason       `json:"resume_reason,omitempty"`
	ErrorText      string             `json:"error,omitempty"`
}

// NewJob builds a queued job over the normalized, deduplicated domains.
func NewJob(id string, domains []string, now time.Time) Job {
	return Job{
		ID:            id,
		SchemaVersion: JobSchemaVersion,
		Domains:       DedupeDomains(domains),
		Status:        JobStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Processed counts domains with a recorded result.
func (j Job) Processed() int {
	return len(j.Results)
}

// Skipped counts domains skipped as already resolved.
func (j Job) Skipped() int {
	return len(j.SkippedDomains)
}

// Total counts the job's domains.
func (j Job) Total() int {
	return len(j.Domains)
}

// IsComplete reports whether every domain has a result or a skip.
func (j Job) IsComplete() bool {
	return j.Processed()+j.Skipped() >= j.Total()
}

// RemainingDomains returns domains without a recorded result or skip, in
// job order.
func (j Job) RemainingDomains() []string {
	done := make(map[string]struct{}, len(j.Results)+len(j.SkippedDomains))
	for _, r := range j.Results {
		done[r.Domain] = struct{}{}
	}
	for _, d := range j.SkippedDomains {
		done[d] = struct{}{}
	}
	out := make([]string, 0, len(j.Domains))
	for _, d := range j.Domains {
		if _, ok := done[d]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// RecordResult appends a domain result unless one is already recorded.
func (j *Job) RecordResult(result ExtractionResult, now time.Time) {
	for _, r := range j.Results {
		if r.Domain == result.Domain {
			return
		}
	}
	result.Log = nil
	j.Results = append(j.Results, result)
	j.UpdatedAt = now
}

// RecordSkip marks a domain as skipped.
func (j *Job) RecordSkip(domain string, now time.Time) {
	for _, d := range j.SkippedDomains {
		if d == domain {
			return
		}
	}
	j.SkippedDomains = append(j.SkippedDomains, domain)
	j.UpdatedAt = now
}

// Clone returns a deep copy safe to hand across goroutines.
func (j Job) Clone() Job {
	cp := j
	cp.Domains = append([]string(nil), j.Domains...)
	cp.SkippedDomains = append([]string(nil), j.SkippedDomains...)
	cp.Results = make([]ExtractionResult, len(j.Results))
	for i, r := range j.Results {
		r.Emails = append([]string(nil), r.Emails...)
		r.SourceURLs = append([]string(nil), r.SourceURLs...)
		if r.TaxID != nil {
			v := *r.TaxID
			r.TaxID = &v
		}
		cp.Results[i] = r
	}
	if j.PickedAt != nil {
		t := *j.PickedAt
		cp.PickedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// DedupeDomains normalizes domains and drops empties and duplicates while
// keeping first-seen order.
func DedupeDomains(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, raw := range domains {
		d := NormalizeDomain(raw)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v := s
	return &v
}
