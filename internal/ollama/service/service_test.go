package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	omodels "beatframe/internal/ollama/models"
	podmodels "beatframe/internal/pods/models"
	"beatframe/internal/providers"
	"beatframe/internal/providers/ollama"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
)

type stubLeases struct {
	lease *podmodels.Lease
	err   error
}

func (s stubLeases) Ready(context.Context) (*podmodels.Lease, error) {
	return s.lease, s.err
}

type stubGenerator struct {
	endpoint string
	got      ollama.GenerateRequest
	resp     ollama.GenerateResponse
	err      error
}

func (g *stubGenerator) Generate(_ context.Context, req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
	g.got = req
	return g.resp, g.err
}

func newTestService(leases Leases, gen *stubGenerator) *Service {
	return New(leases, func(endpoint string) Generator {
		gen.endpoint = endpoint
		return gen
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func readyLease() *podmodels.Lease {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &podmodels.Lease{
		ID:       id.NewLeaseID(),
		PodID:    "pod-abc",
		Endpoint: "https://pod-abc-11434.proxy.runpod.net",
		Model:    "llama3",
		Status:   podmodels.StatusReady,
		ReadyAt:  &now,
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the leased model and endpoint", func(t *testing.T) {
		lease := readyLease()
		gen := &stubGenerator{resp: ollama.GenerateResponse{Model: "llama3", Response: "a synthwave sunset", Done: true, EvalCount: 12}}
		svc := newTestService(stubLeases{lease: lease}, gen)

		out, err := svc.Generate(ctx, "user-1", omodels.GenerateRequest{Prompt: "  describe the drop  "})
		require.NoError(t, err)
		assert.Equal(t, "a synthwave sunset", out.Response)
		assert.Equal(t, lease.ID.String(), out.LeaseID)
		assert.Equal(t, lease.Endpoint, gen.endpoint)
		assert.Equal(t, "llama3", gen.got.Model)
		assert.Equal(t, "describe the drop", gen.got.Prompt)
	})

	t.Run("explicit model wins", func(t *testing.T) {
		gen := &stubGenerator{resp: ollama.GenerateResponse{Model: "mistral", Done: true}}
		svc := newTestService(stubLeases{lease: readyLease()}, gen)

		_, err := svc.Generate(ctx, "user-1", omodels.GenerateRequest{Prompt: "hi", Model: "mistral"})
		require.NoError(t, err)
		assert.Equal(t, "mistral", gen.got.Model)
	})

	t.Run("no ready pod", func(t *testing.T) {
		gen := &stubGenerator{}
		svc := newTestService(stubLeases{err: dErrors.New(dErrors.CodeUnavailable, "no pod is leased")}, gen)

		_, err := svc.Generate(ctx, "user-1", omodels.GenerateRequest{Prompt: "hi"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
		assert.Empty(t, gen.endpoint)
	})

	t.Run("empty prompt", func(t *testing.T) {
		svc := newTestService(stubLeases{lease: readyLease()}, &stubGenerator{})
		_, err := svc.Generate(ctx, "user-1", omodels.GenerateRequest{Prompt: "   "})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("prompt too long", func(t *testing.T) {
		svc := newTestService(stubLeases{lease: readyLease()}, &stubGenerator{})
		long := make([]byte, omodels.MaxPromptBytes+1)
		for i := range long {
			long[i] = 'a'
		}
		_, err := svc.Generate(ctx, "user-1", omodels.GenerateRequest{Prompt: string(long)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("pod error is mapped", func(t *testing.T) {
		gen := &stubGenerator{err: providers.NewProviderError(providers.ErrorTimeout, ollama.EngineName, "deadline", errors.New("ctx"))}
		svc := newTestService(stubLeases{lease: readyLease()}, gen)

		_, err := svc.Generate(ctx, "user-1", omodels.GenerateRequest{Prompt: "hi"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})
}
