// Package provider talks to the remote workflow API and classifies its failures.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/troneras/workflow-orchestrator/pkg/models"
)

const runPath = "/v1/workflows/run"

// ResponseMode selects how the provider returns the run result.
type ResponseMode string

const (
	ResponseModeStreaming ResponseMode = "streaming"
	ResponseModeBlocking  ResponseMode = "blocking"
)

// RunRequest is the body of a workflow run call. Nil Inputs are omitted, which
// the health probe relies on to provoke an input error without running anything.
type RunRequest struct {
	Inputs map[string]any
	User   string
}

// Client calls the provider workflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a provider client rooted at baseURL. A nil httpClient uses
// one without a global timeout; callers bound calls through the context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// RunStreaming starts a run in streaming mode and returns the open event-stream
// body. The caller must close it.
func (c *Client) RunStreaming(ctx context.Context, provider *models.Provider, request RunRequest) (io.ReadCloser, error) {
	resp, err := c.run(ctx, provider, request, ResponseModeStreaming)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// RunBlocking runs the workflow to completion and returns the decoded response.
func (c *Client) RunBlocking(ctx context.Context, provider *models.Provider, request RunRequest) (map[string]any, error) {
	resp, err := c.run(ctx, provider, request, ResponseModeBlocking)
	if err != nil {
		return nil, err
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}

	result := map[string]any{}

	if len(bytes.TrimSpace(raw)) == 0 {
		return result, nil
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: "decode", Err: err}
	}

	return result, nil
}

func (c *Client) run(ctx context.Context, provider *models.Provider, request RunRequest, mode ResponseMode) (*http.Response, error) {
	body := map[string]any{
		"response_mode": mode,
		"user":          request.User,
	}

	if request.Inputs != nil {
		body["inputs"] = request.Inputs
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+runPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	req.Header.Set("Content-Type", "application/json")

	if mode == ResponseModeStreaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	return c.do(req)
}

// do sends req and converts non-2xx responses into *APIError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	return nil, newAPIError(resp.StatusCode, raw)
}
