// Package httpx provides HTTP handlers and utilities for the sublead job engine API.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sublead/sublead-api/internal/domain/auth"
	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
	"github.com/sublead/sublead-api/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Orchestrator *service.Orchestrator
}

// SubmitJob handles HTTP requests to submit a new job.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		WriteAppError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	var req model.SubmitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	tier, err := tierFromSession(sess.Tier)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	job, err := h.Orchestrator.Submit(r.Context(), sess.UserID, tier, &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// ListJobs handles HTTP requests to list the caller's jobs, newest first.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		WriteAppError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := parseIntQuery(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.Orchestrator.ListJobs(r.Context(), sess.UserID, limit, offset)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob handles HTTP requests for one job record.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	sess, jobID, ok := h.sessionAndID(w, r)
	if !ok {
		return
	}

	job, err := h.Orchestrator.GetJob(r.Context(), sess.UserID, jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// GetStatus handles the high-frequency status poll.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	sess, jobID, ok := h.sessionAndID(w, r)
	if !ok {
		return
	}

	view, err := h.Orchestrator.GetStatus(r.Context(), sess.UserID, jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, view)
}

// GetResults returns whatever results a job has produced so far.
func (h *JobHandlers) GetResults(w http.ResponseWriter, r *http.Request) {
	sess, jobID, ok := h.sessionAndID(w, r)
	if !ok {
		return
	}

	items, err := h.Orchestrator.GetResults(r.Context(), sess.UserID, jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"results": items})
}

// CancelJob requests cooperative cancellation of a job.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	sess, jobID, ok := h.sessionAndID(w, r)
	if !ok {
		return
	}

	if err := h.Orchestrator.Cancel(r.Context(), sess.UserID, jobID); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (h *JobHandlers) sessionAndID(w http.ResponseWriter, r *http.Request) (*auth.Session, string, bool) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		WriteAppError(w, apperrors.Unauthorized("authentication required"))
		return nil, "", false
	}
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job id is required"),
		})
		return nil, "", false
	}
	return sess, jobID, true
}

// tierFromSession parses the billing tier carried on the session. An empty
// tier defaults to trial; an unrecognized one is a data problem upstream.
func tierFromSession(raw string) (model.Tier, error) {
	if raw == "" {
		return model.TierTrial, nil
	}
	var tier model.Tier
	if err := tier.UnmarshalText([]byte(raw)); err != nil {
		return "", apperrors.Internalf("session carries unknown tier %q", raw)
	}
	return tier, nil
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
