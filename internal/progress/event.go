// Package progress defines the event structures emitted by enrichment workers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart       Stage = "JOB_START"
	StageJobCheckpoint  Stage = "JOB_CHECKPOINT"
	StageJobDone        Stage = "JOB_DONE"
	StageJobError       Stage = "JOB_ERROR"
	StageDomainDone     Stage = "DOMAIN_DONE"
	StageCaptchaWait    Stage = "CAPTCHA_WAIT"
	StageCaptchaCleared Stage = "CAPTCHA_CLEARED"
)

// Event captures a single component of enrichment progress.
type Event struct {
	// JobID identifies the job run. One-shot extractions use an empty ID.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Domain scopes domain and CAPTCHA events.
	Domain string
	// URL is the page involved, if any.
	URL string
	// Strategy is the strategy that produced a domain result.
	Strategy string
	// Found is set on DOMAIN_DONE when a tax id was extracted.
	Found bool
	// Processed and Total carry the job counters at checkpoint time.
	Processed int
	Total     int
	// Dur captures the domain or job latency.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobCheckpoint, StageJobDone, StageJobError:
		if e.JobID == "" {
			return errors.New("job events require job id")
		}
	case StageDomainDone, StageCaptchaWait, StageCaptchaCleared:
		if e.Domain == "" {
			return fmt.Errorf("%s requires domain", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
