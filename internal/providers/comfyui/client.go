// Package comfyui drives a ComfyUI server: workflows are submitted as API
// graphs and completion is read from the history endpoint.
package comfyui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"beatframe/internal/providers"
	"beatframe/pkg/platform/httpclient"
)

const EngineName = "comfyui"

type Client struct {
	baseURL   string
	clientID  string
	transport providers.Transport
}

type Option func(*Client)

// WithClientID pins the websocket client id ComfyUI associates with prompts.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

func New(baseURL string, exec *httpclient.Executor, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		clientID:  "beatframe-" + uuid.NewString(),
		transport: providers.Transport{Engine: EngineName, Exec: exec},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return EngineName }

type promptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type promptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// Submit queues the graph carried in sub.Params.
func (c *Client) Submit(ctx context.Context, sub providers.Submission) (providers.RemoteJob, error) {
	if len(sub.Params) == 0 {
		return providers.RemoteJob{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "workflow graph is required", nil)
	}
	var out promptResponse
	err := c.transport.JSON(ctx, http.MethodPost, c.baseURL+"/prompt", promptRequest{
		Prompt:   sub.Params,
		ClientID: c.clientID,
	}, &out)
	if err != nil {
		return providers.RemoteJob{}, err
	}
	if out.PromptID == "" {
		return providers.RemoteJob{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "response missing prompt_id", nil)
	}
	return providers.RemoteJob{ID: out.PromptID, Engine: EngineName}, nil
}

type historyEntry struct {
	Status struct {
		StatusStr string            `json:"status_str"`
		Completed bool              `json:"completed"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]nodeOutput `json:"outputs"`
}

type nodeOutput struct {
	Images []fileRef `json:"images"`
	Gifs   []fileRef `json:"gifs"`
	Audio  []fileRef `json:"audio"`
}

type fileRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Status reads /history/{id}. An empty object means the prompt is still queued
// or executing.
func (c *Client) Status(ctx context.Context, remoteID string) (providers.RemoteStatus, error) {
	var history map[string]historyEntry
	if err := c.transport.JSON(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(remoteID), nil, &history); err != nil {
		return providers.RemoteStatus{}, err
	}
	entry, ok := history[remoteID]
	if !ok {
		return providers.RemoteStatus{State: providers.StatePending}, nil
	}

	switch entry.Status.StatusStr {
	case "success":
		return providers.RemoteStatus{State: providers.StateSucceeded, Output: c.collectOutputs(entry.Outputs)}, nil
	case "error":
		return providers.RemoteStatus{State: providers.StateFailed, Error: "workflow execution failed"}, nil
	default:
		if entry.Status.Completed {
			return providers.RemoteStatus{State: providers.StateSucceeded, Output: c.collectOutputs(entry.Outputs)}, nil
		}
		return providers.RemoteStatus{State: providers.StateRunning}, nil
	}
}

// collectOutputs flattens node outputs into view URLs ordered by node id.
func (c *Client) collectOutputs(outputs map[string]nodeOutput) map[string]any {
	nodes := make([]string, 0, len(outputs))
	for node := range outputs {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	files := make([]string, 0)
	for _, node := range nodes {
		out := outputs[node]
		for _, group := range [][]fileRef{out.Images, out.Gifs, out.Audio} {
			for _, f := range group {
				q := url.Values{}
				q.Set("filename", f.Filename)
				q.Set("subfolder", f.Subfolder)
				q.Set("type", f.Type)
				files = append(files, c.baseURL+"/view?"+q.Encode())
			}
		}
	}
	return map[string]any{"files": files}
}

// Health checks /system_stats.
func (c *Client) Health(ctx context.Context) error {
	return c.transport.JSON(ctx, http.MethodGet, c.baseURL+"/system_stats", nil, nil)
}
