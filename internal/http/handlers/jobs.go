package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orchestrator/internal/domain"
)

type createJobRequest struct {
	OwnerID string         `json:"owner_id"`
	Spec    domain.JobSpec `json:"spec"`
}

type createJobResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// JobsCreate validates the spec and enqueues the job in pending state. The
// worker picks it up; callers poll JobStatus for progress.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Pipeline.Submit(r.Context(), req.OwnerID, req.Spec)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSpec) {
			a.error(w, http.StatusUnprocessableEntity, "invalid_spec", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("api: submit failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	a.json(w, http.StatusAccepted, createJobResponse{JobID: job.ID, Status: job.Status})
}

// JobStatus is the cheap, idempotent read model polled by clients.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	view, err := a.Pipeline.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch job status")
		return
	}
	a.json(w, http.StatusOK, view)
}

// JobCancel requests best-effort cancellation and returns the job's state as
// of processing, which may already be completed.
func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	view, err := a.Pipeline.RequestCancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	a.json(w, http.StatusOK, view)
}
