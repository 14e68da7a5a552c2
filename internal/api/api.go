// Package api exposes the HTTP surface: job polling and cancellation,
// synchronous interview turns, and the blocked-item approval workflow.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskweave/taskweave/internal/interview"
	"github.com/taskweave/taskweave/internal/job"
	"github.com/taskweave/taskweave/internal/modblock"
	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/types"
)

const maxBodySize = 1 << 20 // 1MB

// AppDeps carries the service dependencies into the handlers
type AppDeps struct {
	Store      storage.Storage
	Jobs       *job.Manager
	Interviews *interview.Engine
	Blocker    *modblock.Blocker
	Logger     *zap.SugaredLogger
}

// NewAppHandler builds the router
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", handleHealthz(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Post("/jobs/{id}/cancel", handleCancelJob(deps))

	r.Post("/interviews/{id}/start", handleStartInterview(deps))
	r.Post("/interviews/{id}/send-message", handleSendMessage(deps))

	r.Get("/work-items/blocked", handleListBlocked(deps))
	r.Post("/work-items/{id}/approve-modification", handleApprove(deps))
	r.Post("/work-items/{id}/reject-modification", handleReject(deps))

	return r
}

// JobResponse is the pollable job snapshot
type JobResponse struct {
	ID              string          `json:"id"`
	Type            types.JobType   `json:"type"`
	Status          types.JobStatus `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, JobResponse{
			ID:              j.ID,
			Type:            j.Type,
			Status:          j.Status,
			ProgressPercent: j.ProgressPercent,
			ProgressMessage: j.ProgressMessage,
			Result:          j.Result,
			Error:           j.Error,
		})
	}
}

func handleCancelJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Jobs.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
	}
}

// StartInterviewRequest carries the project context for the first question
type StartInterviewRequest struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func handleStartInterview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var req StartInterviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "name is required")
			return
		}

		reply, err := deps.Interviews.Start(r.Context(), chi.URLParam(r, "id"), types.ProjectContext{
			ProjectID:   req.ProjectID,
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			writeInterviewError(deps, w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

// SendMessageRequest carries the user's answer
type SendMessageRequest struct {
	Content string `json:"content"`
}

func handleSendMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "content is required")
			return
		}

		reply, err := deps.Interviews.Next(r.Context(), chi.URLParam(r, "id"), req.Content)
		if err != nil {
			writeInterviewError(deps, w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleListBlocked(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		if scope == "" {
			httpError(w, http.StatusBadRequest, "scope is required")
			return
		}
		items, err := deps.Store.ListBlockedWorkItems(r.Context(), scope)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		if items == nil {
			items = []*types.WorkItem{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func handleApprove(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		replacement, err := deps.Blocker.Approve(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": replacement})
	}
}

// RejectRequest optionally carries the rejection reason
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

func handleReject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RejectRequest
		if r.ContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
				return
			}
		}
		if err := deps.Blocker.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
			writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	}
}

func handleHealthz(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeInterviewError(deps AppDeps, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "interview not found")
	case errors.Is(err, storage.ErrConflict):
		httpError(w, http.StatusConflict, "interview is no longer active")
	default:
		deps.Logger.Errorw("interview request failed", "error", err)
		httpError(w, http.StatusBadGateway, "question generation failed: %v", err)
	}
}

func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrConflict), errors.Is(err, modblock.ErrAlreadyBlocked):
		httpError(w, http.StatusConflict, "conflicting state: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "internal error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"message": fmt.Sprintf(format, args...)},
	})
}
