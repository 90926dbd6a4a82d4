package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatframe/pkg/platform/httpclient"
)

var notice = Notice{Subject: "Job succeeded", Text: "Your video is ready", JobID: "j1", Status: "succeeded"}

func TestSlack(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, httpclient.NewExecutor(httpclient.WithTimeout(time.Second)))
	require.NoError(t, s.Notify(context.Background(), notice))
	assert.Equal(t, "*Job succeeded*\nYour video is ready", got["text"])
}

func TestSlackRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	err := NewSlack(srv.URL, httpclient.NewExecutor()).Notify(context.Background(), notice)
	assert.ErrorContains(t, err, "403")
}

func TestSendGrid(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg, err := NewSendGrid("SG.key", "jobs@beatframe.test", "ops@beatframe.test", WithSendGridHost(srv.URL))
	require.NoError(t, err)
	require.NoError(t, sg.Notify(context.Background(), notice))
	assert.Equal(t, "Job succeeded", body["subject"])
}

func TestSendGridRequiresConfig(t *testing.T) {
	_, err := NewSendGrid("", "a@b.c", "d@e.f")
	assert.Error(t, err)
}

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) Notify(context.Context, Notice) error {
	f.calls++
	return f.err
}

func TestMultiContinuesPastFailures(t *testing.T) {
	failing := &fakeNotifier{err: errors.New("smtp down")}
	ok := &fakeNotifier{}
	m := NewMulti(slog.New(slog.NewTextHandler(io.Discard, nil)), failing, ok)

	err := m.Notify(context.Background(), notice)
	assert.ErrorContains(t, err, "smtp down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 2, m.Len())
}
