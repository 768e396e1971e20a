// Package assetquery dispatches asset-query/asset-list steps, a read-only
// lookup against the external asset service. No inventory CRUD — an
// explicit non-goal — this package only resolves or lists assets.
package assetquery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus-qen/stagee/internal/adapters/asset"
	"github.com/marcus-qen/stagee/internal/executor"
)

// Input is the step payload for an asset-query/asset-list step.
type Input struct {
	AssetID string            `json:"asset_id,omitempty"`
	Filter  map[string]string `json:"filter,omitempty"`
}

// Handler implements executor.Handler for the asset-query step family.
type Handler struct {
	assets asset.Client
}

// New builds an asset-query Handler.
func New(assets asset.Client) *Handler {
	return &Handler{assets: assets}
}

func (h *Handler) Name() string      { return "asset-query" }
func (h *Handler) Aliases() []string { return []string{"asset-list"} }

// ResolveInputs decodes the query/list payload. No secrets ever flow
// through this family.
func (h *Handler) ResolveInputs(ctx context.Context, assetID string, rawInputs json.RawMessage) (executor.ResolvedInputs, error) {
	var in Input
	if err := json.Unmarshal(rawInputs, &in); err != nil {
		return nil, fmt.Errorf("assetquery: decode inputs: %w", err)
	}
	if in.AssetID == "" && len(in.Filter) == 0 {
		return nil, fmt.Errorf("assetquery: asset_id or filter is required")
	}
	return executor.ResolvedInputs{"asset_id": in.AssetID, "filter": in.Filter}, nil
}

// Invoke fetches a single asset or lists assets matching filter.
func (h *Handler) Invoke(ctx context.Context, assetID string, inputs executor.ResolvedInputs) (executor.Outcome, error) {
	queryID, _ := inputs["asset_id"].(string)
	filter, _ := inputs["filter"].(map[string]string)

	var output []byte
	var err error
	if queryID != "" {
		var a *asset.Asset
		a, err = h.assets.Get(ctx, queryID)
		if err == nil {
			output, _ = json.Marshal(a)
		}
	} else {
		var list []asset.Asset
		list, err = h.assets.List(ctx, filter)
		if err == nil {
			output, _ = json.Marshal(list)
		}
	}
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("assetquery: %w", err)
	}
	return executor.Outcome{Success: true, Output: output}, nil
}

// CheckSuccess reports whether the lookup completed without error; an empty
// result counts as success.
func (h *Handler) CheckSuccess(outcome executor.Outcome) bool {
	return outcome.Success
}

// DescribeError renders a safe summary of a failed lookup.
func (h *Handler) DescribeError(outcome executor.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return "asset lookup failed"
}
