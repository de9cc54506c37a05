package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orchestrator/internal/domain"
)

// GroupGet returns the full review read model of one generation group.
func (a *App) GroupGet(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	if groupID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "group_id required")
		return
	}
	snapshot, err := a.Versions.GetGroup(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "group not found")
			return
		}
		a.Logger.Error().Err(err).Str("group_id", groupID).Msg("api: group fetch failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch group")
		return
	}
	a.json(w, http.StatusOK, snapshot)
}

type regenerateResponse struct {
	IterationID string `json:"iteration_id"`
	Index       int    `json:"index"`
}

// GroupRegenerate layers a fresh round of attempts onto the group's history.
func (a *App) GroupRegenerate(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	if groupID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "group_id required")
		return
	}
	var spec domain.RegenerateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	iter, err := a.Versions.Regenerate(r.Context(), groupID, spec)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "group not found")
		case errors.Is(err, domain.ErrInvalidSpec):
			a.error(w, http.StatusUnprocessableEntity, "invalid_spec", err.Error())
		default:
			a.Logger.Error().Err(err).Str("group_id", groupID).Msg("api: regenerate failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to regenerate")
		}
		return
	}
	a.json(w, http.StatusAccepted, regenerateResponse{IterationID: iter.ID, Index: iter.Index})
}

type setFinalRequest struct {
	AttemptID string `json:"attempt_id"`
}

// GroupSetFinal reassigns the group's final pointer to one of its attempts.
func (a *App) GroupSetFinal(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	if groupID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "group_id required")
		return
	}
	var req setFinalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AttemptID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "attempt_id required")
		return
	}
	if err := a.Versions.SetFinal(r.Context(), groupID, req.AttemptID); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotInGroup):
			a.error(w, http.StatusConflict, "not_in_group", "attempt does not belong to group")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "attempt not found")
		default:
			a.Logger.Error().Err(err).Str("group_id", groupID).Msg("api: set final failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to set final")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
