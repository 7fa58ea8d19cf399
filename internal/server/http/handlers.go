package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/scene-enrichment-service/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// startEnrichmentRequest is the JSON request body for starting enrichment.
type startEnrichmentRequest struct {
	IncludeSecondaryAnalysis bool `json:"include_secondary_analysis"`
}

// cancelEnrichmentRequest is the JSON request body for cancelling enrichment.
type cancelEnrichmentRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// startEnrichment handles POST /enrichment.
// It marks the job enriching and launches a run over its pending scenes.
func (s *Server) startEnrichment(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	var req startEnrichmentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	run, err := s.enrichment.Start(r.Context(), jobID, req.IncludeSecondaryAnalysis)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, runToResponse(jobID.String(), run, "enrichment started"))
}

// resumeEnrichment handles POST /enrichment/resume.
// A resume that finds nothing to do answers 200 with started=false.
func (s *Server) resumeEnrichment(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	run, err := s.enrichment.Resume(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if run == nil {
		writeJSON(w, http.StatusOK, runToResponse(jobID.String(), nil, "nothing to resume"))
		return
	}
	writeJSON(w, http.StatusAccepted, runToResponse(jobID.String(), run, "enrichment resumed"))
}

// cancelEnrichment handles DELETE /enrichment.
func (s *Server) cancelEnrichment(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	var req cancelEnrichmentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	job, err := s.enrichment.Cancel(r.Context(), jobID, strings.TrimSpace(req.Reason))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jobToCancelResponse(job))
}

// resetEnrichment handles POST /enrichment/reset.
func (s *Server) resetEnrichment(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	reset, err := s.enrichment.Reset(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resetResponse{
		JobID:         jobID.String(),
		ScenesReset:   reset,
		Status:        string(domain.JobStatusPending),
		StatusMessage: "scene enrichment reset",
	})
}

// getProgress handles GET /progress.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	progress, err := s.enrichment.Progress(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, progressToResponse(progress))
}

// decodeBody reads an optional JSON body into dst and validates it.
// An empty body leaves dst at its zero value. Writes a 400 and returns false on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}

	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return false
		}
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeDomainError maps domain errors to appropriate HTTP status codes
// and writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrRunActive):
		writeError(w, http.StatusConflict, "enrichment run already active")
	case errors.Is(err, domain.ErrInvalidTransition):
		var te *domain.TransitionError
		if errors.As(err, &te) {
			writeError(w, http.StatusConflict, te.Error())
		} else {
			writeError(w, http.StatusConflict, "invalid status transition")
		}
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// Returns the parsed UUID and true on success, or uuid.Nil and false on failure.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}
