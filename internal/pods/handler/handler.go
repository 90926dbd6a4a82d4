package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"beatframe/internal/platform/middleware"
	"beatframe/internal/pods/models"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/httputil"
)

// Service is the pod lease manager as seen by HTTP.
type Service interface {
	Recruit(ctx context.Context, model string) (*models.Lease, error)
	Release(ctx context.Context) (*models.Lease, error)
	Current(ctx context.Context) (*models.Lease, error)
}

// Handler serves /api/pods/lease. Routes are operator-only; the caller mounts
// them behind the admin token middleware.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/pods/lease", h.handleCurrent)
	r.Post("/api/pods/lease", h.handleRecruit)
	r.Delete("/api/pods/lease", h.handleRelease)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	lease, err := h.service.Current(r.Context())
	if err != nil {
		h.fail(r.Context(), w, err, "failed to read pod lease")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToLeaseResponse(lease))
}

func (h *Handler) handleRecruit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.RecruitRequest
	// The body is optional.
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			httputil.WriteError(w, err)
			return
		}
	}

	lease, err := h.service.Recruit(ctx, req.Model)
	if err != nil {
		if lease != nil && dErrors.HasCode(err, dErrors.CodeConflict) {
			h.logger.InfoContext(ctx, "pod lease already held",
				"request_id", middleware.GetRequestID(ctx),
				"lease_id", lease.ID,
			)
			httputil.WriteJSON(w, http.StatusConflict, models.LeaseConflictResponse{
				Error:            string(dErrors.CodeConflict),
				ErrorDescription: dErrors.MessageOf(err),
				Lease:            models.ToLeaseResponse(lease),
			})
			return
		}
		h.fail(ctx, w, err, "failed to recruit pod")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, models.ToLeaseResponse(lease))
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	lease, err := h.service.Release(r.Context())
	if err != nil {
		h.fail(r.Context(), w, err, "failed to release pod")
		return
	}
	if lease == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToLeaseResponse(lease))
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
