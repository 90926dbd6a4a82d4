// Package service runs text generation on the leased Ollama pod.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	omodels "beatframe/internal/ollama/models"
	podmodels "beatframe/internal/pods/models"
	"beatframe/internal/providers"
	"beatframe/internal/providers/ollama"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
)

// Leases yields the pod lease once it serves its model.
type Leases interface {
	Ready(ctx context.Context) (*podmodels.Lease, error)
}

type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (ollama.GenerateResponse, error)
}

type GeneratorFactory func(endpoint string) Generator

type Service struct {
	leases    Leases
	generator GeneratorFactory
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(leases Leases, generator GeneratorFactory, opts ...Option) *Service {
	s := &Service{
		leases:    leases,
		generator: generator,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate runs one non-streaming completion. It fails with unavailable
// unless a pod is leased and ready.
func (s *Service) Generate(ctx context.Context, userID id.UserID, req omodels.GenerateRequest) (*omodels.GenerateResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "prompt is required")
	}
	if len(prompt) > omodels.MaxPromptBytes {
		return nil, dErrors.New(dErrors.CodeValidation, "prompt is too long")
	}

	lease, err := s.leases.Ready(ctx)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = lease.Model
	}

	start := s.now()
	out, err := s.generator(lease.Endpoint).Generate(ctx, ollama.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		System: req.System,
	})
	elapsed := s.now().Sub(start)
	if err != nil {
		s.logger.WarnContext(ctx, "ollama generation failed",
			"lease_id", lease.ID,
			"user_id", userID,
			"model", model,
			"error", err,
		)
		return nil, providers.ToDomainError(err)
	}

	s.logger.InfoContext(ctx, "ollama generation finished",
		"lease_id", lease.ID,
		"user_id", userID,
		"model", out.Model,
		"eval_count", out.EvalCount,
		"duration_ms", elapsed.Milliseconds(),
	)
	return &omodels.GenerateResponse{
		Model:      out.Model,
		Response:   out.Response,
		Done:       out.Done,
		DoneReason: out.DoneReason,
		EvalCount:  out.EvalCount,
		DurationMS: elapsed.Milliseconds(),
		LeaseID:    lease.ID.String(),
	}, nil
}
