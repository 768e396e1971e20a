// Package httpcall dispatches api/http/rest steps: an HTTP request with a
// declared method, headers, and body against a target URL. Grounded on the
// teacher's http.go credential-injection and response-capping shape.
package httpcall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marcus-qen/stagee/internal/adapters/secretstore"
	"github.com/marcus-qen/stagee/internal/executor"
	"github.com/marcus-qen/stagee/internal/safety"
)

const maxResponseBytes = 64 * 1024

// Input is the step payload for an api/http/rest step.
type Input struct {
	URL        string                      `json:"url"`
	Method     string                      `json:"method,omitempty"`
	Headers    map[string]string           `json:"headers,omitempty"`
	Body       string                      `json:"body,omitempty"`
	Timeout    string                      `json:"timeout,omitempty"`
	SecretRefs map[string]secretstore.Ref `json:"secret_refs,omitempty"`
}

// Handler implements executor.Handler for the HTTP step family.
type Handler struct {
	client  *http.Client
	secrets *safety.SecretResolver
}

// New builds an HTTP-family Handler.
func New(secrets *safety.SecretResolver) *Handler {
	return &Handler{
		client:  &http.Client{Timeout: 30 * time.Second},
		secrets: secrets,
	}
}

func (h *Handler) Name() string      { return "api" }
func (h *Handler) Aliases() []string { return []string{"http", "rest"} }

// ResolveInputs decodes the step's raw JSON and resolves secret references,
// most commonly used for an Authorization header value.
func (h *Handler) ResolveInputs(ctx context.Context, assetID string, rawInputs json.RawMessage) (executor.ResolvedInputs, error) {
	var in Input
	if err := json.Unmarshal(rawInputs, &in); err != nil {
		return nil, fmt.Errorf("httpcall: decode inputs: %w", err)
	}
	if in.URL == "" {
		return nil, fmt.Errorf("httpcall: url is required")
	}
	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}

	resolved := executor.ResolvedInputs{
		"url":     in.URL,
		"method":  method,
		"headers": in.Headers,
		"body":    in.Body,
	}
	for name, ref := range in.SecretRefs {
		val, err := h.secrets.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("httpcall: resolve secret %s: %w", name, err)
		}
		resolved[name] = val
	}
	return resolved, nil
}

// Invoke issues the HTTP request described by inputs.
func (h *Handler) Invoke(ctx context.Context, assetID string, inputs executor.ResolvedInputs) (executor.Outcome, error) {
	url, _ := inputs["url"].(string)
	method, _ := inputs["method"].(string)
	body, _ := inputs["body"].(string)
	headers, _ := inputs["headers"].(map[string]string)

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("httpcall: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if auth, ok := inputs["authorization"].(string); ok && auth != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("httpcall: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("httpcall: read response: %w", err)
	}

	output, _ := json.Marshal(map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	})
	return executor.Outcome{
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Output:  output,
	}, nil
}

// CheckSuccess reports whether the response was a 2xx.
func (h *Handler) CheckSuccess(outcome executor.Outcome) bool {
	return outcome.Success
}

// DescribeError renders a safe summary of an HTTP failure.
func (h *Handler) DescribeError(outcome executor.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return "request did not return a successful status"
}
