package runpod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatframe/internal/providers"
	"beatframe/pkg/platform/httpclient"
)

func newServer(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func exec() *httpclient.Executor {
	return httpclient.NewExecutor(httpclient.WithTimeout(time.Second))
}

func TestSubmitAddsWorkflowAndAuth(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/ep-1/run", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var body struct {
			Input map[string]any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "music-video", body.Input["workflow"])
		assert.Equal(t, float64(42), body.Input["seed"])
		_, _ = w.Write([]byte(`{"id":"job-9","status":"IN_QUEUE"}`))
	})

	c := New(url, "ep-1", "key-1", exec())
	job, err := c.Submit(context.Background(), providers.Submission{
		Workflow: "music-video",
		Params:   json.RawMessage(`{"seed":42}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-9", job.ID)
}

func TestSubmitUnauthorized(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := New(url, "ep-1", "bad", exec()).Submit(context.Background(), providers.Submission{})
	assert.Equal(t, providers.ErrorAuthentication, providers.GetCategory(err))
	assert.False(t, providers.IsRetryable(err))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		body  string
		state providers.State
		err   string
	}{
		{`{"id":"j","status":"IN_QUEUE"}`, providers.StatePending, ""},
		{`{"id":"j","status":"IN_PROGRESS"}`, providers.StateRunning, ""},
		{`{"id":"j","status":"COMPLETED","output":{"video_url":"https://cdn/x.mp4"}}`, providers.StateSucceeded, ""},
		{`{"id":"j","status":"FAILED","error":"CUDA out of memory"}`, providers.StateFailed, "CUDA out of memory"},
		{`{"id":"j","status":"TIMED_OUT"}`, providers.StateFailed, "remote job timed_out"},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/ep-1/status/j", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})
			st, err := New(url, "ep-1", "k", exec()).Status(context.Background(), "j")
			require.NoError(t, err)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.err, st.Error)
		})
	}
}

func TestStatusScalarOutput(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"j","status":"COMPLETED","output":"done"}`))
	})
	st, err := New(url, "ep-1", "k", exec()).Status(context.Background(), "j")
	require.NoError(t, err)
	assert.Equal(t, "done", st.Output["result"])
}

func TestStatusUnknownIsBadData(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"j","status":"WEIRD"}`))
	})
	_, err := New(url, "ep-1", "k", exec()).Status(context.Background(), "j")
	assert.Equal(t, providers.ErrorBadData, providers.GetCategory(err))
}

func TestPodLifecycle(t *testing.T) {
	deleted := false
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pods":
			var spec PodSpec
			require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
			assert.Equal(t, "ollama/ollama:latest", spec.ImageName)
			assert.Equal(t, []string{"11434/http"}, spec.Ports)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pod-1","desiredStatus":"RUNNING"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/pods/pod-1":
			_, _ = w.Write([]byte(`{"id":"pod-1","desiredStatus":"RUNNING","publicIp":"1.2.3.4"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/pods/pod-1":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	c := NewPodClient(url, "k", exec())
	ctx := context.Background()

	pod, err := c.Create(ctx, PodSpec{Name: "lease", ImageName: "ollama/ollama:latest", Ports: []string{"11434/http"}})
	require.NoError(t, err)
	assert.Equal(t, "https://pod-1-11434.proxy.runpod.net", pod.ProxyURL(11434))

	got, err := c.Get(ctx, "pod-1")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", got.PublicIP)

	require.NoError(t, c.Terminate(ctx, "pod-1"))
	assert.True(t, deleted)
	require.NoError(t, c.Terminate(ctx, "pod-gone"))
}
