package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatframe/internal/jwttoken"
	"beatframe/internal/platform/metrics"
	id "beatframe/pkg/domain"
	"beatframe/pkg/platform/httputil"
	"beatframe/pkg/requestcontext"
	"beatframe/pkg/testutil"
)

type registrarFunc func(r chi.Router)

func (f registrarFunc) Register(r chi.Router) { f(r) }

func newTestRouter(t *testing.T, checks ...Check) (http.Handler, *jwttoken.JWTService) {
	t.Helper()
	jwt := jwttoken.NewJWTService("test-signing-key-with-enough-bytes", "beatframe", "beatframe-api")
	reg := prometheus.NewRegistry()

	whoami := registrarFunc(func(r chi.Router) {
		r.Get("/api/whoami", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"user_id": requestcontext.UserID(r.Context()).String()})
		})
	})
	ops := registrarFunc(func(r chi.Router) {
		r.Get("/api/ops", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	router := NewRouter(Dependencies{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		RequestTimeout: time.Second,
		AdminToken:     "ops-secret",
		JWTValidator:   jwttoken.NewJWTServiceAdapter(jwt),
		Checks:         checks,
		User:           []Registrar{whoami},
		Admin:          []Registrar{ops},
	})
	return router, jwt
}

func TestProbes(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		router, _ := newTestRouter(t)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatusOK(t, rr)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})

	t.Run("readyz passes", func(t *testing.T) {
		router, _ := newTestRouter(t, Check{Name: "redis", Probe: func(context.Context) error { return nil }})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/readyz"))
		testutil.AssertJSONContains(t, rr, "status", "ready")
	})

	t.Run("readyz lists failures", func(t *testing.T) {
		router, _ := newTestRouter(t,
			Check{Name: "redis", Probe: func(context.Context) error { return nil }},
			Check{Name: "postgres", Probe: func(context.Context) error { return errors.New("connection refused") }},
		)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/readyz"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		body := testutil.UnmarshalResponse[struct {
			Failed map[string]string `json:"failed"`
		}](t, rr)
		assert.Equal(t, map[string]string{"postgres": "connection refused"}, body.Failed)
	})

	t.Run("metrics exposes request latency", func(t *testing.T) {
		router, _ := newTestRouter(t)
		testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
		assert.Contains(t, rr.Body.String(), "/healthz")
	})
}

func TestUserRoutesRequireToken(t *testing.T) {
	router, jwt := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/api/whoami"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	userID := id.UserID("dj-7f3a")
	token, err := jwt.GenerateAccessToken(userID, "dj@example.com", time.Minute)
	require.NoError(t, err)

	rr = testutil.DoRequest(router, testutil.WithBearer(testutil.NewRequest(t, http.MethodGet, "/api/whoami"), token))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "user_id", userID.String())
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/api/ops"))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	req := testutil.NewRequest(t, http.MethodGet, "/api/ops")
	req.Header.Set("X-Admin-Token", "ops-secret")
	rr = testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusNoContent)
}
