package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatframe/pkg/platform/httpclient"
)

func newTransport(t *testing.T, h http.HandlerFunc, opts ...httpclient.ExecutorOption) (Transport, string) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]httpclient.ExecutorOption{httpclient.WithTimeout(time.Second)}, opts...)
	return Transport{Engine: "comfyui", Exec: httpclient.NewExecutor(opts...)}, srv.URL
}

func TestTransportOversizedResponse(t *testing.T) {
	tr, url := newTransport(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"images":["` + strings.Repeat("A", 64) + `"]}`))
	}, httpclient.WithMaxBodyBytes(32))

	var out map[string]any
	err := tr.JSON(context.Background(), http.MethodGet, url, nil, &out)
	require.Error(t, err)
	assert.Equal(t, ErrorBadData, GetCategory(err))
	assert.ErrorContains(t, err, "response too large")
	assert.False(t, IsRetryable(err))
}

func TestTransportStream(t *testing.T) {
	t.Run("hands the body over", func(t *testing.T) {
		tr, url := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			_, _ = w.Write([]byte("{\"status\":\"pulling\"}\n{\"status\":\"success\"}\n"))
		})

		var got string
		err := tr.Stream(context.Background(), http.MethodPost, url, map[string]bool{"stream": true}, func(r io.Reader) error {
			b, err := io.ReadAll(r)
			got = string(b)
			return err
		})
		require.NoError(t, err)
		assert.Contains(t, got, `"success"`)
	})

	t.Run("error status is classified", func(t *testing.T) {
		tr, url := newTransport(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
		})

		called := false
		err := tr.Stream(context.Background(), http.MethodPost, url, nil, func(io.Reader) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.Equal(t, ErrorNotFound, GetCategory(err))
		assert.ErrorContains(t, err, "model not found")
	})
}
