// Package checks dispatches validation/check/verify steps: a
// predicate-returning probe against a remote asset, used to confirm a prior
// step's effect rather than to mutate anything.
package checks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus-qen/stagee/internal/adapters/automation"
	"github.com/marcus-qen/stagee/internal/executor"
)

// Input is the step payload for a validation/check/verify step.
type Input struct {
	Probe    string   `json:"probe"`
	Args     []string `json:"args,omitempty"`
	Expected string   `json:"expected,omitempty"`
}

// Handler implements executor.Handler for the validation step family.
type Handler struct {
	automation automation.Client
}

// New builds a validation-family Handler.
func New(automation automation.Client) *Handler {
	return &Handler{automation: automation}
}

func (h *Handler) Name() string      { return "validation" }
func (h *Handler) Aliases() []string { return []string{"check", "verify"} }

// ResolveInputs decodes the probe definition.
func (h *Handler) ResolveInputs(ctx context.Context, assetID string, rawInputs json.RawMessage) (executor.ResolvedInputs, error) {
	var in Input
	if err := json.Unmarshal(rawInputs, &in); err != nil {
		return nil, fmt.Errorf("checks: decode inputs: %w", err)
	}
	if in.Probe == "" {
		return nil, fmt.Errorf("checks: probe is required")
	}
	return executor.ResolvedInputs{
		"probe":    in.Probe,
		"args":     in.Args,
		"expected": in.Expected,
	}, nil
}

// Invoke runs the probe and records whether its output matched expected.
func (h *Handler) Invoke(ctx context.Context, assetID string, inputs executor.ResolvedInputs) (executor.Outcome, error) {
	probe, _ := inputs["probe"].(string)
	args, _ := inputs["args"].([]string)
	expected, _ := inputs["expected"].(string)

	result, err := h.automation.Execute(ctx, automation.CommandRequest{
		AssetID: assetID,
		Command: probe,
		Args:    args,
	})
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("checks: probe %s: %w", probe, err)
	}

	matched := result.ExitCode == 0
	if expected != "" {
		matched = matched && result.Stdout == expected
	}

	output, _ := json.Marshal(map[string]any{
		"exit_code": result.ExitCode,
		"stdout":    result.Stdout,
		"matched":   matched,
	})
	return executor.Outcome{Success: matched, Output: output}, nil
}

// CheckSuccess reports whether the probe's predicate held.
func (h *Handler) CheckSuccess(outcome executor.Outcome) bool {
	return outcome.Success
}

// DescribeError renders a safe summary of a failed check.
func (h *Handler) DescribeError(outcome executor.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return "check predicate did not hold"
}
