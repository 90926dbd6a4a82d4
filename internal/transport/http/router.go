// Package httptransport assembles the public router: the shared middleware
// chain, probes, metrics and every feature handler.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beatframe/internal/platform/metrics"
	"beatframe/internal/platform/middleware"
	"beatframe/pkg/platform/httputil"
	adminmw "beatframe/pkg/platform/middleware/admin"
	authmw "beatframe/pkg/platform/middleware/auth"
	"beatframe/pkg/platform/middleware/metadata"
	"beatframe/pkg/platform/middleware/requesttime"
)

const readyTimeout = 2 * time.Second

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Check is one dependency probed by /readyz.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type Dependencies struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	AdminToken     string
	JWTValidator   authmw.JWTValidator
	Checks         []Check

	// User routes run behind RequireAuth.
	User []Registrar
	// Admin routes run behind RequireAdminToken.
	Admin []Registrar
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger, deps.Metrics))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.LatencyMiddleware(deps.Metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(deps.Checks, deps.Logger))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if deps.RequestTimeout > 0 {
			r.Use(middleware.Timeout(deps.RequestTimeout))
		}
		r.Use(authmw.RequireAuth(deps.JWTValidator, deps.Logger))
		for _, h := range deps.User {
			h.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(deps.AdminToken, deps.Logger))
		for _, h := range deps.Admin {
			h.Register(r)
		}
	})
	return r
}

func readiness(checks []Check, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed := map[string]string{}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			err := c.Probe(ctx)
			cancel()
			if err != nil {
				failed[c.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			logger.WarnContext(r.Context(), "readiness check failed", "failed", failed)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
