// Package stability animates a still image through the Stability AI
// image-to-video API.
package stability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"beatframe/internal/providers"
	"beatframe/pkg/platform/httpclient"
)

const EngineName = "stability"

const finishSuccess = "SUCCESS"

type Client struct {
	baseURL   string
	transport providers.Transport
}

func New(baseURL, apiKey string, exec *httpclient.Executor) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		transport: providers.Transport{
			Engine: EngineName,
			Exec:   exec,
			Header: http.Header{"Authorization": []string{"Bearer " + apiKey}},
		},
	}
}

func (c *Client) Name() string { return EngineName }

// Params for image-to-video. Image is base64 encoded PNG or JPEG.
type Params struct {
	Image          string   `json:"image"`
	Seed           *int64   `json:"seed,omitempty"`
	CfgScale       *float64 `json:"cfg_scale,omitempty"`
	MotionBucketID *int     `json:"motion_bucket_id,omitempty"`
}

func (c *Client) Submit(ctx context.Context, sub providers.Submission) (providers.RemoteJob, error) {
	var p Params
	if err := sub.DecodeParams(EngineName, &p); err != nil {
		return providers.RemoteJob{}, err
	}
	image, err := base64.StdEncoding.DecodeString(p.Image)
	if err != nil || len(image) == 0 {
		return providers.RemoteJob{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "image must be non-empty base64", err)
	}

	body, contentType, err := encodeForm(image, p)
	if err != nil {
		return providers.RemoteJob{}, providers.NewProviderError(providers.ErrorInternal, EngineName, "encode form", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2beta/image-to-video", body)
	if err != nil {
		return providers.RemoteJob{}, providers.NewProviderError(providers.ErrorInternal, EngineName, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return providers.RemoteJob{}, err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.BodyBytes, &out); err != nil || out.ID == "" {
		return providers.RemoteJob{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "response missing id", err)
	}
	return providers.RemoteJob{ID: out.ID, Engine: EngineName}, nil
}

func encodeForm(image []byte, p Params) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="image"`)
	hdr.Set("Content-Type", http.DetectContentType(image))
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}

	fields := map[string]string{}
	if p.Seed != nil {
		fields["seed"] = strconv.FormatInt(*p.Seed, 10)
	}
	if p.CfgScale != nil {
		fields["cfg_scale"] = strconv.FormatFloat(*p.CfgScale, 'f', -1, 64)
	}
	if p.MotionBucketID != nil {
		fields["motion_bucket_id"] = strconv.Itoa(*p.MotionBucketID)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

type resultResponse struct {
	Video        string `json:"video"`
	FinishReason string `json:"finish_reason"`
	Seed         int64  `json:"seed"`
}

// Status polls the result route: 202 while rendering, 200 once done.
func (c *Client) Status(ctx context.Context, remoteID string) (providers.RemoteStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2beta/image-to-video/result/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return providers.RemoteStatus{}, providers.NewProviderError(providers.ErrorInternal, EngineName, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return providers.RemoteStatus{}, err
	}
	if resp.Status == http.StatusAccepted {
		return providers.RemoteStatus{State: providers.StateRunning}, nil
	}

	var out resultResponse
	if err := json.Unmarshal(resp.BodyBytes, &out); err != nil {
		return providers.RemoteStatus{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "malformed result", err)
	}
	if out.FinishReason != finishSuccess {
		return providers.RemoteStatus{State: providers.StateFailed, Error: "finish_reason " + out.FinishReason}, nil
	}
	return providers.RemoteStatus{
		State: providers.StateSucceeded,
		Output: map[string]any{
			"video":         out.Video,
			"mime_type":     "video/mp4",
			"finish_reason": out.FinishReason,
			"seed":          out.Seed,
		},
	}, nil
}

// Health reads the account balance, which needs a valid key and no credits.
func (c *Client) Health(ctx context.Context) error {
	return c.transport.JSON(ctx, http.MethodGet, c.baseURL+"/v1/user/balance", nil, nil)
}
