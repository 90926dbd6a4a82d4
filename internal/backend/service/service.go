// Package service exposes the backend's projects and tracks as typed calls.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"beatframe/internal/backend/client"
	"beatframe/internal/backend/models"
	dErrors "beatframe/pkg/domain-errors"
)

const (
	RouteListProjects = "projects.list"
	RouteGetProject   = "projects.get"
	RouteAnalyzeTrack = "tracks.analyze"
)

type Forwarder interface {
	Forward(ctx context.Context, req client.Request) (*client.Response, error)
	RegisterFallback(route string, fn client.FallbackFunc)
}

// Result carries a decoded payload, the upstream status and whether it came
// from the mock. Empty is set when the backend answered without a body.
type Result[T any] struct {
	Value    T
	Status   int
	Empty    bool
	Fallback bool
}

type Service struct {
	backend Forwarder
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New registers the mock payloads on backend; they are only served when the
// client has mock fallback enabled.
func New(backend Forwarder, opts ...Option) *Service {
	s := &Service{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	backend.RegisterFallback(RouteListProjects, func(context.Context, client.Request) any {
		return models.MockProjects()
	})
	backend.RegisterFallback(RouteGetProject, func(_ context.Context, req client.Request) any {
		return models.MockProject(lastSegment(req.Path))
	})
	backend.RegisterFallback(RouteAnalyzeTrack, func(_ context.Context, req client.Request) any {
		return models.MockAnalysis(trackFromAnalyzePath(req.Path), s.now().UTC())
	})
	return s
}

func (s *Service) ListProjects(ctx context.Context, query url.Values) (Result[models.ProjectList], error) {
	return call[models.ProjectList](ctx, s.backend, client.Request{
		Route:  RouteListProjects,
		Method: http.MethodGet,
		Path:   "/projects",
		Query:  query,
	})
}

func (s *Service) GetProject(ctx context.Context, projectID string) (Result[models.Project], error) {
	if projectID == "" {
		return Result[models.Project]{}, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	return call[models.Project](ctx, s.backend, client.Request{
		Route:  RouteGetProject,
		Method: http.MethodGet,
		Path:   "/projects/" + url.PathEscape(projectID),
	})
}

func (s *Service) AnalyzeTrack(ctx context.Context, trackID string, req models.AnalyzeRequest) (Result[models.TrackAnalysis], error) {
	if trackID == "" {
		return Result[models.TrackAnalysis]{}, dErrors.New(dErrors.CodeBadRequest, "track id is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Result[models.TrackAnalysis]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode analyze request")
	}
	return call[models.TrackAnalysis](ctx, s.backend, client.Request{
		Route:  RouteAnalyzeTrack,
		Method: http.MethodPost,
		Path:   "/tracks/" + url.PathEscape(trackID) + "/analyze",
		Body:   body,
	})
}

func call[T any](ctx context.Context, backend Forwarder, req client.Request) (Result[T], error) {
	var out Result[T]
	resp, err := backend.Forward(ctx, req)
	if err != nil {
		return out, err
	}
	if err := resp.Err(); err != nil {
		return out, err
	}
	out.Status = resp.Status
	out.Fallback = resp.Fallback
	if resp.Status == http.StatusNoContent || len(bytes.TrimSpace(resp.Body)) == 0 {
		out.Empty = true
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, &out.Value); err != nil {
		return out, dErrors.Wrap(fmt.Errorf("decode %s: %w", req.Route, err), dErrors.CodeBadGateway, "backend returned malformed data")
	}
	return out, nil
}

func lastSegment(path string) string {
	seg := path[strings.LastIndex(path, "/")+1:]
	if unescaped, err := url.PathUnescape(seg); err == nil {
		return unescaped
	}
	return seg
}

// trackFromAnalyzePath extracts {id} from /tracks/{id}/analyze.
func trackFromAnalyzePath(path string) string {
	return lastSegment(strings.TrimSuffix(path, "/analyze"))
}
