package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatframe/internal/backend/client"
	"beatframe/internal/backend/models"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/httpclient"
)

func newBackend(t *testing.T, handler http.HandlerFunc, mockFallback bool) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := client.New(srv.URL, httpclient.NewExecutor(httpclient.WithTimeout(time.Second)),
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		client.WithMockFallback(mockFallback),
	)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(c, WithClock(func() time.Time { return now }))
}

func TestListProjects(t *testing.T) {
	svc := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects", r.URL.Path)
		_ = json.NewEncoder(w).Encode(models.ProjectList{
			Projects: []models.Project{{ID: "p1", Name: "Live Set", Status: "ready"}},
			Total:    1,
		})
	}, true)

	res, err := svc.ListProjects(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	require.Len(t, res.Value.Projects, 1)
	assert.Equal(t, "Live Set", res.Value.Projects[0].Name)
}

func TestGetProject(t *testing.T) {
	t.Run("escapes the id", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/projects/a%2Fb", r.URL.EscapedPath())
			_, _ = w.Write([]byte(`{"id":"a/b","name":"Odd","status":"draft","tracks":[]}`))
		}, false)

		res, err := svc.GetProject(context.Background(), "a/b")
		require.NoError(t, err)
		assert.Equal(t, "a/b", res.Value.ID)
	})

	t.Run("backend 404", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Project not found"}`))
		}, true)

		_, err := svc.GetProject(context.Background(), "missing")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("mock carries the requested id", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}, true)

		res, err := svc.GetProject(context.Background(), "p-42")
		require.NoError(t, err)
		assert.True(t, res.Fallback)
		assert.Equal(t, "p-42", res.Value.ID)
		assert.Equal(t, "p-42", res.Value.Tracks[0].ProjectID)
	})

	t.Run("empty id", func(t *testing.T) {
		svc := newBackend(t, func(http.ResponseWriter, *http.Request) {
			t.Fatal("backend must not be called")
		}, false)
		_, err := svc.GetProject(context.Background(), "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func TestAnalyzeTrack(t *testing.T) {
	t.Run("relays the request body", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/tracks/t1/analyze", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"features":["bpm","key"]}`, string(body))
			_, _ = w.Write([]byte(`{"track_id":"t1","bpm":128,"key":"F minor","energy":0.9,"danceability":0.8,"sections":[]}`))
		}, false)

		res, err := svc.AnalyzeTrack(context.Background(), "t1", models.AnalyzeRequest{Features: json.RawMessage(`["bpm","key"]`)})
		require.NoError(t, err)
		assert.Equal(t, float64(128), res.Value.BPM)
	})

	t.Run("mock analysis", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, true)

		res, err := svc.AnalyzeTrack(context.Background(), "t9", models.AnalyzeRequest{})
		require.NoError(t, err)
		assert.True(t, res.Fallback)
		assert.Equal(t, "t9", res.Value.TrackID)
		assert.NotEmpty(t, res.Value.Sections)
		assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), res.Value.AnalyzedAt)
	})

	t.Run("malformed backend payload", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}, false)

		_, err := svc.AnalyzeTrack(context.Background(), "t1", models.AnalyzeRequest{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadGateway))
	})
	t.Run("no content is not malformed", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}, false)

		res, err := svc.AnalyzeTrack(context.Background(), "t1", models.AnalyzeRequest{})
		require.NoError(t, err)
		assert.True(t, res.Empty)
		assert.Equal(t, http.StatusNoContent, res.Status)
	})

	t.Run("created keeps the upstream status", func(t *testing.T) {
		svc := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"track_id":"t1","bpm":90}`))
		}, false)

		res, err := svc.AnalyzeTrack(context.Background(), "t1", models.AnalyzeRequest{})
		require.NoError(t, err)
		assert.False(t, res.Empty)
		assert.Equal(t, http.StatusCreated, res.Status)
		assert.Equal(t, float64(90), res.Value.BPM)
	})
}
