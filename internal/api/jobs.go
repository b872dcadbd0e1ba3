package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/id/uuid"
	"github.com/JakeFAU/inn-enricher/internal/scheduler"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type enqueueRequest struct {
	JobID   string   `json:"job_id"`
	Domains []string `json:"domains"`
}

// jobStatusDTO is the job_status response.
type jobStatusDTO struct {
	JobID         string                    `json:"job_id"`
	Status        enrich.JobStatus          `json:"status"`
	Processed     int                       `json:"processed"`
	Skipped       int                       `json:"skipped"`
	Total         int                       `json:"total"`
	CurrentDomain string                    `json:"current_domain,omitempty"`
	Attempts      int                       `json:"attempts"`
	ResumeReason  enrich.ResumeReason       `json:"resume_reason,omitempty"`
	Error         string                    `json:"error,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	PickedAt      *time.Time                `json:"picked_at,omitempty"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	FinishedAt    *time.Time                `json:"finished_at,omitempty"`
	Results       []enrich.ExtractionResult `json:"results,omitempty"`
}

func toJobStatusDTO(job enrich.Job, withResults bool) jobStatusDTO {
	dto := jobStatusDTO{
		JobID:         job.ID,
		Status:        job.Status,
		Processed:     job.Processed(),
		Skipped:       job.Skipped(),
		Total:         job.Total(),
		CurrentDomain: job.CurrentDomain,
		Attempts:      job.Attempts,
		ResumeReason:  job.ResumeReason,
		Error:         job.ErrorText,
		CreatedAt:     job.CreatedAt,
		PickedAt:      job.PickedAt,
		UpdatedAt:     job.UpdatedAt,
		FinishedAt:    job.FinishedAt,
	}
	if withResults {
		dto.Results = job.Results
	}
	return dto
}

// enqueueJob handles POST /v1/jobs. It returns 202 with the job id, 400 for
// a malformed body or no usable domains, and 409 when the id is taken.
func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.JobID == "" {
		id, err := s.deps.IDs.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		req.JobID = id
	} else if err := uuid.Validate(req.JobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.deps.Jobs.Enqueue(r.Context(), req.JobID, req.Domains)
	switch {
	case errors.Is(err, scheduler.ErrNoDomains):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, enrich.ErrJobExists):
		writeError(w, http.StatusConflict, "job already exists")
		return
	case err != nil:
		s.logger.Error("enqueue failed", zap.String("job_id", req.JobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, toJobStatusDTO(job, false))
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, enrich.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, toJobStatusDTO(job, true))
}

// listJobs handles GET /v1/jobs?status=&limit=. Status defaults to running.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.deps.Jobs.List(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	out := make([]jobStatusDTO, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobStatusDTO(job, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func parseStatus(input string) (enrich.JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "running":
		return enrich.JobStatusRunning, nil
	case "queued":
		return enrich.JobStatusQueued, nil
	case "completed", "success":
		return enrich.JobStatusCompleted, nil
	case "failed", "error":
		return enrich.JobStatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}
