package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"beatframe/internal/backend/client"
	"beatframe/internal/backend/models"
	"beatframe/internal/backend/service"
	"beatframe/internal/platform/middleware"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/httputil"
)

type Service interface {
	ListProjects(ctx context.Context, query url.Values) (service.Result[models.ProjectList], error)
	GetProject(ctx context.Context, projectID string) (service.Result[models.Project], error)
	AnalyzeTrack(ctx context.Context, trackID string, req models.AnalyzeRequest) (service.Result[models.TrackAnalysis], error)
}

// Handler proxies the projects/tracks API. Routes expect RequireAuth.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/projects", h.handleListProjects)
	r.Get("/api/projects/{id}", h.handleGetProject)
	r.With(middleware.ContentTypeJSON).Post("/api/tracks/{id}/analyze", h.handleAnalyzeTrack)
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ListProjects(r.Context(), r.URL.Query())
	if err != nil {
		h.fail(r.Context(), w, err, "failed to list projects")
		return
	}
	writeResult(w, res)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(r.Context(), w, err, "failed to load project")
		return
	}
	writeResult(w, res)
}

func (h *Handler) handleAnalyzeTrack(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	// The body is optional.
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			httputil.WriteError(w, err)
			return
		}
	}
	res, err := h.service.AnalyzeTrack(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(r.Context(), w, err, "failed to analyze track")
		return
	}
	writeResult(w, res)
}

// writeResult mirrors the upstream 2xx status. A bodyless answer stays
// bodyless.
func writeResult[T any](w http.ResponseWriter, res service.Result[T]) {
	if res.Fallback {
		w.Header().Set(client.FallbackHeader, "mock")
	}
	status := res.Status
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		status = http.StatusOK
	}
	if res.Empty {
		if status == http.StatusOK {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
		return
	}
	httputil.WriteJSON(w, status, res.Value)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	code := dErrors.CodeOf(err)
	if dErrors.ToHTTPStatus(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error_code", code,
		)
	}
	httputil.WriteError(w, err)
}
