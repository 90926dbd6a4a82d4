// Package ollama calls the Ollama HTTP API running on a leased pod.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"beatframe/internal/providers"
	"beatframe/pkg/platform/httpclient"
)

const (
	EngineName = "ollama"

	defaultPullTimeout = 30 * time.Minute
)

type Client struct {
	baseURL     string
	transport   providers.Transport
	pullTimeout time.Duration
}

type Option func(*Client)

// WithPullTimeout bounds a whole model download.
func WithPullTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pullTimeout = d
		}
	}
}

func New(baseURL string, exec *httpclient.Executor, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		transport:   providers.Transport{Engine: EngineName, Exec: exec},
		pullTimeout: defaultPullTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Model struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Tags lists locally available models.
func (c *Client) Tags(ctx context.Context) ([]Model, error) {
	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.transport.JSON(ctx, http.MethodGet, c.baseURL+"/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	req.Stream = false
	var out GenerateResponse
	if err := c.transport.JSON(ctx, http.MethodPost, c.baseURL+"/api/generate", req, &out); err != nil {
		return GenerateResponse{}, err
	}
	return out, nil
}

// PullProgress is one status line of a streamed pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Pull downloads a model, following the streamed progress until the server
// reports success. The pull is bounded by its own timeout rather than the
// per-request one.
func (c *Client) Pull(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, c.pullTimeout)
	defer cancel()

	body := map[string]any{"model": model, "stream": true}
	return c.transport.Stream(ctx, http.MethodPost, c.baseURL+"/api/pull", body, func(r io.Reader) error {
		dec := json.NewDecoder(r)
		for {
			var p PullProgress
			if err := dec.Decode(&p); err != nil {
				if ctx.Err() != nil {
					return providers.FromTransport(EngineName, ctx.Err())
				}
				if errors.Is(err, io.EOF) {
					return providers.NewProviderError(providers.ErrorProviderOutage, EngineName, "pull ended before success", nil)
				}
				return providers.FromTransport(EngineName, err)
			}
			if p.Error != "" {
				return providers.NewProviderError(providers.ErrorBadData, EngineName, "pull failed: "+p.Error, nil)
			}
			if p.Status == "success" {
				return nil
			}
		}
	})
}

// HasModel reports whether model (with or without the :latest tag) is present.
func HasModel(models []Model, model string) bool {
	for _, m := range models {
		if m.Name == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return true
		}
	}
	return false
}
