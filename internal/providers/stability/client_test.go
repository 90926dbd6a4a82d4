package stability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatframe/internal/providers"
	"beatframe/pkg/platform/httpclient"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "sk-test", httpclient.NewExecutor(httpclient.WithTimeout(time.Second)))
}

func TestSubmitSendsMultipart(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2beta/image-to-video", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "7", r.FormValue("seed"))
		assert.Equal(t, "1.8", r.FormValue("cfg_scale"))
		assert.Equal(t, "127", r.FormValue("motion_bucket_id"))

		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, pngHeader, data)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))

		_, _ = w.Write([]byte(`{"id":"gen-1"}`))
	})

	params, _ := json.Marshal(map[string]any{
		"image":            base64.StdEncoding.EncodeToString(pngHeader),
		"seed":             7,
		"cfg_scale":        1.8,
		"motion_bucket_id": 127,
	})
	job, err := c.Submit(context.Background(), providers.Submission{Workflow: "image-to-video", Params: params})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", job.ID)
}

func TestSubmitRequiresImage(t *testing.T) {
	c := New("http://unused.invalid", "k", httpclient.NewExecutor())
	_, err := c.Submit(context.Background(), providers.Submission{Params: json.RawMessage(`{"image":"!!"}`)})
	assert.Equal(t, providers.ErrorBadData, providers.GetCategory(err))
}

func TestStatus(t *testing.T) {
	t.Run("rendering", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2beta/image-to-video/result/gen-1", r.URL.Path)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"id":"gen-1","status":"in-progress"}`))
		})
		st, err := c.Status(context.Background(), "gen-1")
		require.NoError(t, err)
		assert.Equal(t, providers.StateRunning, st.State)
	})

	t.Run("done", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"video":"AAAA","finish_reason":"SUCCESS","seed":7}`))
		})
		st, err := c.Status(context.Background(), "gen-1")
		require.NoError(t, err)
		assert.Equal(t, providers.StateSucceeded, st.State)
		assert.Equal(t, "AAAA", st.Output["video"])
	})

	t.Run("filtered", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"video":"","finish_reason":"CONTENT_FILTERED"}`))
		})
		st, err := c.Status(context.Background(), "gen-1")
		require.NoError(t, err)
		assert.Equal(t, providers.StateFailed, st.State)
		assert.Contains(t, st.Error, "CONTENT_FILTERED")
	})

	t.Run("expired generation", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := c.Status(context.Background(), "gen-1")
		assert.Equal(t, providers.ErrorNotFound, providers.GetCategory(err))
	})
}
