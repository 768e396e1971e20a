// Package secretstore is a thin client for the external secret store (spec
// §6.1). Stage E never stores secret material itself — it only resolves
// references at the moment a step needs them, and the resolved value flows
// only through the masking-wrapped logger.
package secretstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Ref identifies a secret without revealing its value.
type Ref struct {
	Path string
	Key  string
}

// Client resolves secret references to their current value.
type Client interface {
	Resolve(ctx context.Context, ref Ref) (string, error)
}

// HTTPClient resolves secret references against a remote secret store over
// HTTP. The resolved value is returned once and never retained by the
// client itself.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a secret store client against baseURL.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client}
}

// Resolve fetches the current value of ref. The response body is read fully
// and the connection released before returning, so a resolved secret never
// lingers in a buffered reader.
func (c *HTTPClient) Resolve(ctx context.Context, ref Ref) (string, error) {
	u := fmt.Sprintf("%s/secrets/%s?key=%s", c.baseURL, url.PathEscape(ref.Path), url.QueryEscape(ref.Key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("secretstore: resolve %s: %w", ref.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("secretstore: resolve %s: status %d", ref.Path, resp.StatusCode)
	}
	value, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("secretstore: read %s: %w", ref.Path, err)
	}
	return string(value), nil
}
