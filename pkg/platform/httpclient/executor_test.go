package httpclient

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
)

func TestExecutorTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	exec := NewExecutor(WithTimeout(20 * time.Millisecond))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := exec.Do(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, resp.Duration)
}

func TestExecutorBuffersResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.JSONEq(t, `{"prompt":"hi"}`, string(body))
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	req, err := NewJSONRequest(context.Background(), http.MethodPost, server.URL, map[string]string{"prompt": "hi"})
	require.NoError(t, err)

	resp, err := NewExecutor(WithTimeout(time.Second)).Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "yes", resp.Headers.Get("X-Upstream"))
	assert.JSONEq(t, `{"ok":true}`, string(resp.BodyBytes))
}

func TestExecutorRejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 17)))
	}))
	defer server.Close()

	exec := NewExecutor(WithTimeout(time.Second), WithMaxBodyBytes(16))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	_, err = exec.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	exact := NewExecutor(WithTimeout(time.Second), WithMaxBodyBytes(17))
	req, err = http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := exact.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, resp.BodyBytes, 17)
}

func TestExecutorStreamIgnoresCallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			_, _ = w.Write([]byte("line\n"))
			flusher.Flush()
			time.Sleep(15 * time.Millisecond)
		}
	}))
	defer server.Close()

	exec := NewExecutor(WithTimeout(20 * time.Millisecond))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	var body []byte
	err = exec.Stream(context.Background(), req, func(resp *http.Response) error {
		var readErr error
		body, readErr = io.ReadAll(resp.Body)
		return readErr
	})
	require.NoError(t, err)
	assert.Equal(t, "line\nline\nline\n", string(body))
}
