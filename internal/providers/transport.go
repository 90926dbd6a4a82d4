package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"beatframe/pkg/platform/httpclient"
)

// Transport issues provider calls and classifies failures as ProviderError.
type Transport struct {
	Engine string
	Exec   *httpclient.Executor
	// Header is added to every request (auth, API version).
	Header http.Header
}

// Do sends req. Non-2xx statuses become ProviderError unless listed in allow.
func (t Transport) Do(ctx context.Context, req *http.Request, allow ...int) (httpclient.ResponseData, error) {
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := t.Exec.Do(ctx, req)
	if err != nil {
		return resp, FromTransport(t.Engine, err)
	}
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	for _, code := range allow {
		if resp.Status == code {
			return resp, nil
		}
	}
	return resp, FromStatus(t.Engine, resp.Status, resp.BodyBytes)
}

// JSON sends in as a JSON body (nil for none) and decodes the response into out.
func (t Transport) JSON(ctx context.Context, method, url string, in, out any) error {
	req, err := httpclient.NewJSONRequest(ctx, method, url, in)
	if err != nil {
		return NewProviderError(ErrorInternal, t.Engine, "build request", err)
	}
	resp, err := t.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.BodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.BodyBytes, out); err != nil {
		return NewProviderError(ErrorBadData, t.Engine, "malformed response body", err)
	}
	return nil
}

// maxErrorBody bounds how much of a failed streaming response is kept.
const maxErrorBody = 4 << 10

// Stream sends in as a JSON body and hands a 2xx response body to fn. Non-2xx
// statuses become ProviderError.
func (t Transport) Stream(ctx context.Context, method, url string, in any, fn func(io.Reader) error) error {
	req, err := httpclient.NewJSONRequest(ctx, method, url, in)
	if err != nil {
		return NewProviderError(ErrorInternal, t.Engine, "build request", err)
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	var streamErr error
	err = t.Exec.Stream(ctx, req, func(resp *http.Response) error {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return FromStatus(t.Engine, resp.StatusCode, body)
		}
		streamErr = fn(resp.Body)
		return nil
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return err
		}
		return FromTransport(t.Engine, err)
	}
	return streamErr
}
