package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/learning"
)

const (
	defaultLearningLimit = 20
	maxLearningLimit     = 1000
	maxBodyBytes         = 1 << 20
)

type manualURLRequest struct {
	Domain   string          `json:"domain"`
	DataType enrich.DataType `json:"data_type"`
	URL      string          `json:"url"`
}

func (s *Server) learningSummary(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLearningLimit, maxLearningLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Learning.Summary(limit))
}

// learnManual records an operator-confirmed page for a domain.
func (s *Server) learnManual(w http.ResponseWriter, r *http.Request) {
	var req manualURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := s.deps.Learning.LearnFromManualURL(req.Domain, req.DataType, req.URL); err != nil {
		if errors.Is(err, learning.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("learn manual url failed", zap.String("domain", req.Domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to persist learning store")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"domain":    enrich.NormalizeDomain(req.Domain),
		"data_type": string(req.DataType),
		"status":    "learned",
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
