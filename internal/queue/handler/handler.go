package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"beatframe/internal/platform/middleware"
	"beatframe/internal/queue/models"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/httputil"
	"beatframe/pkg/requestcontext"
)

// Service is the queue manager as seen by HTTP.
type Service interface {
	Enqueue(ctx context.Context, userID id.UserID, engine, workflow string, params json.RawMessage) (*models.Job, error)
	Get(ctx context.Context, userID id.UserID, jobID id.JobID) (*models.Job, error)
	List(ctx context.Context, userID id.UserID) ([]*models.Job, error)
	Cancel(ctx context.Context, userID id.UserID, jobID id.JobID) (*models.Job, error)
	Depth(ctx context.Context) (int, error)
	Engines() []string
	EngineHealth(ctx context.Context) []models.EngineHealth
}

// Handler serves /api/workflows and /api/engines. Routes expect RequireAuth
// to have run.
type Handler struct {
	service     Service
	logger      *slog.Logger
	submitLimit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithSubmitLimiter wraps POST /api/workflows, typically with the per-user
// rate limiter.
func WithSubmitLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.submitLimit = mw }
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:     service,
		logger:      logger,
		submitLimit: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/engines", h.handleEngines)
	r.Route("/api/workflows", func(r chi.Router) {
		r.With(middleware.ContentTypeJSON, h.submitLimit).Post("/", h.handleSubmit)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Delete("/{id}", h.handleCancel)
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req models.SubmitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid workflow submission",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	job, err := h.service.Enqueue(ctx, userID, strings.ToLower(strings.TrimSpace(req.Engine)), strings.TrimSpace(req.Workflow), req.Params)
	if err != nil {
		h.fail(ctx, w, err, "failed to queue workflow")
		return
	}

	w.Header().Set("Location", "/api/workflows/"+job.ID.String())
	httputil.WriteJSON(w, http.StatusAccepted, models.ToJobResponse(job))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	jobs, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.fail(r.Context(), w, err, "failed to list workflows")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToJobListResponse(jobs))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	jobID, err := id.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, dErrors.MessageOf(err)))
		return
	}
	job, err := h.service.Get(r.Context(), userID, jobID)
	if err != nil {
		h.fail(r.Context(), w, err, "failed to load workflow")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToJobResponse(job))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	jobID, err := id.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, dErrors.MessageOf(err)))
		return
	}
	job, err := h.service.Cancel(r.Context(), userID, jobID)
	if err != nil {
		h.fail(r.Context(), w, err, "failed to cancel workflow")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToJobResponse(job))
}

func (h *Handler) handleEngines(w http.ResponseWriter, r *http.Request) {
	depth, err := h.service.Depth(r.Context())
	if err != nil {
		h.fail(r.Context(), w, err, "failed to read queue depth")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.EnginesResponse{
		Engines:    h.service.Engines(),
		Health:     h.service.EngineHealth(r.Context()),
		QueueDepth: depth,
	})
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		// RequireAuth was not mounted in front of this route.
		h.logger.ErrorContext(r.Context(), "user id missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return "", false
	}
	return userID, true
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
