package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	omodels "beatframe/internal/ollama/models"
	"beatframe/internal/platform/middleware"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/httputil"
	"beatframe/pkg/requestcontext"
)

type Service interface {
	Generate(ctx context.Context, userID id.UserID, req omodels.GenerateRequest) (*omodels.GenerateResponse, error)
}

// Handler serves POST /api/ollama/generate behind RequireAuth.
type Handler struct {
	service Service
	logger  *slog.Logger
	limit   func(http.Handler) http.Handler
}

type Option func(*Handler)

func WithLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.limit = mw }
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
		limit:   func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.With(middleware.ContentTypeJSON, h.limit).Post("/api/ollama/generate", h.handleGenerate)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "user id missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req omodels.GenerateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp, err := h.service.Generate(ctx, userID, req)
	if err != nil {
		if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "ollama generation failed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
