// Package filexfer dispatches file/copy/transfer steps: pushing or pulling
// a file to/from a remote asset over the automation service's channel.
package filexfer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus-qen/stagee/internal/adapters/automation"
	"github.com/marcus-qen/stagee/internal/executor"
	"github.com/marcus-qen/stagee/internal/safety"
)

// Input is the step payload for a file/copy/transfer step.
type Input struct {
	Direction  string `json:"direction"` // "push" or "pull"
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
}

// Handler implements executor.Handler for the file-transfer step family.
type Handler struct {
	automation automation.Client
	secrets    *safety.SecretResolver
}

// New builds a file-transfer Handler.
func New(automation automation.Client, secrets *safety.SecretResolver) *Handler {
	return &Handler{automation: automation, secrets: secrets}
}

func (h *Handler) Name() string      { return "file" }
func (h *Handler) Aliases() []string { return []string{"copy", "transfer"} }

// ResolveInputs decodes and validates the transfer payload.
func (h *Handler) ResolveInputs(ctx context.Context, assetID string, rawInputs json.RawMessage) (executor.ResolvedInputs, error) {
	var in Input
	if err := json.Unmarshal(rawInputs, &in); err != nil {
		return nil, fmt.Errorf("filexfer: decode inputs: %w", err)
	}
	if in.Direction != "push" && in.Direction != "pull" {
		return nil, fmt.Errorf("filexfer: direction must be push or pull")
	}
	if in.SourcePath == "" || in.DestPath == "" {
		return nil, fmt.Errorf("filexfer: source_path and dest_path are required")
	}
	return executor.ResolvedInputs{
		"direction":   in.Direction,
		"source_path": in.SourcePath,
		"dest_path":   in.DestPath,
	}, nil
}

// Invoke carries out the transfer via the automation service, which owns
// the actual SFTP/WinRM-copy transport.
func (h *Handler) Invoke(ctx context.Context, assetID string, inputs executor.ResolvedInputs) (executor.Outcome, error) {
	direction, _ := inputs["direction"].(string)
	source, _ := inputs["source_path"].(string)
	dest, _ := inputs["dest_path"].(string)

	result, err := h.automation.Execute(ctx, automation.CommandRequest{
		AssetID: assetID,
		Command: "transfer",
		Args:    []string{direction, source, dest},
	})
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("filexfer: %s %s -> %s: %w", direction, source, dest, err)
	}

	output, _ := json.Marshal(map[string]any{
		"exit_code": result.ExitCode,
		"stdout":    result.Stdout,
	})
	return executor.Outcome{Success: result.ExitCode == 0, Output: output}, nil
}

// CheckSuccess reports whether the transfer's underlying command succeeded.
func (h *Handler) CheckSuccess(outcome executor.Outcome) bool {
	return outcome.Success
}

// DescribeError renders a safe summary of a transfer failure.
func (h *Handler) DescribeError(outcome executor.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return "file transfer failed"
}
