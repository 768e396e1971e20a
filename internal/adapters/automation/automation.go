// Package automation is a thin client for the external automation service
// that actually carries out command/shell and similar step families (spec
// §6.1's execute_command contract). The wire shape (timeout, stdout/stderr/
// exit-code/duration) is grounded on the command/result envelope the
// teacher's probe protocol used for command dispatch.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CommandRequest is one command dispatched to a remote asset.
type CommandRequest struct {
	AssetID string
	Command string
	Args    []string
	Timeout time.Duration
}

// CommandResult is the outcome of a dispatched command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Truncated bool
}

// Client executes commands against remote assets via the automation service.
type Client interface {
	Execute(ctx context.Context, req CommandRequest) (*CommandResult, error)
}

// HTTPClient calls a remote automation service over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an automation service client against baseURL.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client}
}

// Execute dispatches req and waits for the remote command to finish or req's
// context to expire.
func (c *HTTPClient) Execute(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("automation: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/commands", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("automation: execute on %s: %w", req.AssetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("automation: execute on %s: status %d", req.AssetID, resp.StatusCode)
	}
	var out CommandResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("automation: decode result for %s: %w", req.AssetID, err)
	}
	return &out, nil
}
