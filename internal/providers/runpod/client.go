// Package runpod talks to RunPod: serverless endpoints run workflows, and the
// pod REST API rents the GPU instance behind the Ollama lease.
package runpod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"beatframe/internal/providers"
	"beatframe/pkg/platform/httpclient"
)

const EngineName = "runpod"

// Client runs workflows on one serverless endpoint.
type Client struct {
	baseURL    string
	endpointID string
	transport  providers.Transport
}

func New(baseURL, endpointID, apiKey string, exec *httpclient.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		endpointID: endpointID,
		transport: providers.Transport{
			Engine: EngineName,
			Exec:   exec,
			Header: http.Header{"Authorization": []string{"Bearer " + apiKey}},
		},
	}
}

func (c *Client) Name() string { return EngineName }

func (c *Client) endpointURL(parts ...string) string {
	segs := append([]string{c.baseURL, "v2", url.PathEscape(c.endpointID)}, parts...)
	return strings.Join(segs, "/")
}

type runRequest struct {
	Input map[string]any `json:"input"`
}

type jobResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Submit posts {"input": params} to /run. The workflow name is added to the
// input under "workflow" unless params already carry one.
func (c *Client) Submit(ctx context.Context, sub providers.Submission) (providers.RemoteJob, error) {
	input := map[string]any{}
	if err := sub.DecodeParams(EngineName, &input); err != nil {
		return providers.RemoteJob{}, err
	}
	if _, ok := input["workflow"]; !ok && sub.Workflow != "" {
		input["workflow"] = sub.Workflow
	}

	var out jobResponse
	if err := c.transport.JSON(ctx, http.MethodPost, c.endpointURL("run"), runRequest{Input: input}, &out); err != nil {
		return providers.RemoteJob{}, err
	}
	if out.ID == "" {
		return providers.RemoteJob{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "response missing id", nil)
	}
	return providers.RemoteJob{ID: out.ID, Engine: EngineName}, nil
}

func (c *Client) Status(ctx context.Context, remoteID string) (providers.RemoteStatus, error) {
	var out jobResponse
	if err := c.transport.JSON(ctx, http.MethodGet, c.endpointURL("status", url.PathEscape(remoteID)), nil, &out); err != nil {
		return providers.RemoteStatus{}, err
	}

	switch out.Status {
	case "IN_QUEUE":
		return providers.RemoteStatus{State: providers.StatePending}, nil
	case "IN_PROGRESS":
		return providers.RemoteStatus{State: providers.StateRunning}, nil
	case "COMPLETED":
		return providers.RemoteStatus{State: providers.StateSucceeded, Output: decodeOutput(out.Output)}, nil
	case "FAILED", "CANCELLED", "TIMED_OUT":
		msg := out.Error
		if msg == "" {
			msg = "remote job " + strings.ToLower(out.Status)
		}
		return providers.RemoteStatus{State: providers.StateFailed, Error: msg}, nil
	default:
		return providers.RemoteStatus{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "unknown job status "+out.Status, nil)
	}
}

// Health calls the endpoint health route.
func (c *Client) Health(ctx context.Context) error {
	return c.transport.JSON(ctx, http.MethodGet, c.endpointURL("health"), nil, nil)
}

func decodeOutput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var anyVal any
	_ = json.Unmarshal(raw, &anyVal)
	return map[string]any{"result": anyVal}
}
