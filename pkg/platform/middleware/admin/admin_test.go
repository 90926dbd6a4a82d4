package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := map[string]struct {
		expected string
		sent     string
		want     int
	}{
		"match":            {"s3cret", "s3cret", http.StatusNoContent},
		"mismatch":         {"s3cret", "nope", http.StatusUnauthorized},
		"missing":          {"s3cret", "", http.StatusUnauthorized},
		"unconfigured":     {"", "", http.StatusUnauthorized},
		"unconfigured+any": {"", "anything", http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/pods/lease", nil)
			if tc.sent != "" {
				req.Header.Set("X-Admin-Token", tc.sent)
			}
			rec := httptest.NewRecorder()
			RequireAdminToken(tc.expected, logger)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
