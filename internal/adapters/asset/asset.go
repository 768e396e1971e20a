// Package asset is a thin read-only client for the external asset service
// (spec §6.1). Asset inventory CRUD is out of scope — this package only
// resolves assets by ID and lists candidates for asset-query steps.
package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Asset describes a remote target an execution can act against.
type Asset struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"` // e.g. "ssh-host", "http-service", "database"
	Address     string            `json:"address"`
	Environment string            `json:"environment"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Client resolves asset identities for the Executor Core's
// asset-query/asset-list step family and for blast-radius evaluation.
type Client interface {
	Get(ctx context.Context, assetID string) (*Asset, error)
	List(ctx context.Context, filter map[string]string) ([]Asset, error)
}

// HTTPClient calls a remote asset service over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an asset service client against baseURL.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client}
}

// Get fetches a single asset by ID.
func (c *HTTPClient) Get(ctx context.Context, assetID string) (*Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/assets/%s", c.baseURL, assetID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset: get %s: %w", assetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset: get %s: status %d", assetID, resp.StatusCode)
	}
	var out Asset
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("asset: decode %s: %w", assetID, err)
	}
	return &out, nil
}

// List returns assets matching filter tags.
func (c *HTTPClient) List(ctx context.Context, filter map[string]string) ([]Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/assets", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for k, v := range filter {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset: list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset: list: status %d", resp.StatusCode)
	}
	var out []Asset
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("asset: decode list: %w", err)
	}
	return out, nil
}
