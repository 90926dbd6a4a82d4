// Package client forwards requests to the projects/tracks backend.
//
// Outcomes:
//   - status < 500 is relayed unchanged (4xx are not backend failures)
//   - status >= 500, transport errors and deadlines are failures; they count
//     against the circuit breaker and, when mock fallback is enabled and a
//     FallbackFunc is registered for the route, are answered with the mock
//   - while the circuit is open the backend is not called at all
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"beatframe/internal/backend/metrics"
	"beatframe/internal/platform/middleware"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/circuit"
	"beatframe/pkg/platform/httpclient"
	"beatframe/pkg/requestcontext"
)

const (
	FallbackHeader = "X-Backend-Fallback"
	UserIDHeader   = "X-User-ID"
)

type Request struct {
	// Route names the call for metrics and fallback lookup, e.g. "projects.list".
	Route  string
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Header http.Header
}

type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Fallback bool
}

// FallbackFunc builds the mock payload served in place of a failed call.
type FallbackFunc func(ctx context.Context, req Request) any

type Client struct {
	baseURL      string
	exec         *httpclient.Executor
	breaker      *circuit.Breaker
	mockFallback bool

	mu        sync.RWMutex
	fallbacks map[string]FallbackFunc

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithMockFallback enables serving registered mock payloads on failure.
func WithMockFallback(enabled bool) Option {
	return func(c *Client) { c.mockFallback = enabled }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

func New(baseURL string, exec *httpclient.Executor, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		exec:      exec,
		breaker:   circuit.New("backend"),
		fallbacks: make(map[string]FallbackFunc),
		logger:    slog.Default(),
		tracer:    otel.Tracer("beatframe/backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterFallback sets the mock payload for route.
func (c *Client) RegisterFallback(route string, fn FallbackFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[route] = fn
}

// Forward sends req to the backend. A nil error with Fallback=true means the
// body is a mock.
func (c *Client) Forward(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "backend.forward", trace.WithAttributes(
		attribute.String("route", req.Route),
		attribute.String("http.method", req.Method),
	))
	defer span.End()

	if !c.breaker.Allow() {
		c.count(req.Route, "short_circuit")
		span.SetStatus(codes.Error, "circuit open")
		return c.fallback(ctx, req, dErrors.New(dErrors.CodeUnavailable, "backend temporarily unavailable"))
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build backend request")
	}

	res, err := c.exec.Do(ctx, httpReq)
	if c.metrics != nil {
		c.metrics.ObserveLatency(req.Route, res.Duration.Seconds())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// The caller went away; says nothing about backend health.
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "request canceled")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		c.recordFailure(ctx, req.Route)
		return c.fallback(ctx, req, classify(err))
	}

	span.SetAttributes(attribute.Int("http.status_code", res.Status))
	if res.Status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, "backend error")
		c.recordFailure(ctx, req.Route)
		c.logger.WarnContext(ctx, "backend returned server error",
			"route", req.Route,
			"status", res.Status,
			"request_id", middleware.GetRequestID(ctx),
		)
		return c.fallback(ctx, req, dErrors.New(dErrors.CodeBadGateway, fmt.Sprintf("backend returned %d", res.Status)))
	}

	c.recordSuccess(ctx)
	if res.Status >= http.StatusBadRequest {
		c.count(req.Route, "client_error")
	} else {
		c.count(req.Route, "ok")
	}
	return &Response{Status: res.Status, Header: res.Headers, Body: res.BodyBytes}, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		httpReq.Header.Set(middleware.RequestIDHeader, reqID)
	}
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		httpReq.Header.Set(UserIDHeader, userID.String())
	}
	return httpReq, nil
}

func (c *Client) fallback(ctx context.Context, req Request, cause error) (*Response, error) {
	if !c.mockFallback {
		c.count(req.Route, "error")
		return nil, cause
	}
	c.mu.RLock()
	fn, ok := c.fallbacks[req.Route]
	c.mu.RUnlock()
	if !ok {
		c.count(req.Route, "error")
		return nil, cause
	}

	body, err := json.Marshal(fn(ctx, req))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode fallback payload")
	}
	c.count(req.Route, "fallback")
	c.logger.InfoContext(ctx, "serving mock backend payload",
		"route", req.Route,
		"cause", dErrors.CodeOf(cause),
		"request_id", middleware.GetRequestID(ctx),
	)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(FallbackHeader, "mock")
	return &Response{Status: http.StatusOK, Header: header, Body: body, Fallback: true}, nil
}

func (c *Client) recordFailure(ctx context.Context, route string) {
	_, change := c.breaker.RecordFailure()
	if change.Opened {
		c.logger.WarnContext(ctx, "backend circuit opened", "route", route)
		if c.metrics != nil {
			c.metrics.SetCircuitOpen(true)
		}
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	_, change := c.breaker.RecordSuccess()
	if change.Closed {
		c.logger.InfoContext(ctx, "backend circuit closed")
		if c.metrics != nil {
			c.metrics.SetCircuitOpen(false)
		}
	}
}

func (c *Client) count(route, outcome string) {
	if c.metrics != nil {
		c.metrics.IncrementForward(route, outcome)
	}
}

func classify(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "backend timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeBadGateway, "backend unreachable")
}

// Err maps a relayed 4xx to a coded error carrying the backend's detail.
func (r *Response) Err() error {
	if r.Status < http.StatusBadRequest {
		return nil
	}
	msg := detail(r.Body)
	if msg == "" {
		msg = http.StatusText(r.Status)
	}
	switch r.Status {
	case http.StatusUnauthorized:
		return dErrors.New(dErrors.CodeUnauthorized, msg)
	case http.StatusForbidden:
		return dErrors.New(dErrors.CodeForbidden, msg)
	case http.StatusNotFound:
		return dErrors.New(dErrors.CodeNotFound, msg)
	case http.StatusConflict:
		return dErrors.New(dErrors.CodeConflict, msg)
	case http.StatusTooManyRequests:
		return dErrors.New(dErrors.CodeRateLimited, msg)
	case http.StatusUnprocessableEntity:
		return dErrors.New(dErrors.CodeValidation, msg)
	default:
		return dErrors.New(dErrors.CodeBadRequest, msg)
	}
}

// detail reads FastAPI's {"detail": "..."} error body.
func detail(body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if s, ok := payload.Detail.(string); ok {
		return s
	}
	return ""
}
