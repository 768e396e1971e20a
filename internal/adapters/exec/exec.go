// Package exec dispatches command/shell/script/powershell steps against a
// remote asset. An SSH connection is used directly when the asset is an
// "ssh-host" (grounded on the teacher's ssh.go connection/timeout/output-cap
// handling); other connection kinds are delegated to the automation service
// adapter, which owns WinRM and local dispatch.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/marcus-qen/stagee/internal/adapters/asset"
	"github.com/marcus-qen/stagee/internal/adapters/automation"
	"github.com/marcus-qen/stagee/internal/adapters/secretstore"
	"github.com/marcus-qen/stagee/internal/executor"
	"github.com/marcus-qen/stagee/internal/safety"
)

const maxOutputBytes = 8192

// defaultBlockedCommands are binaries that must never run through a
// generic command step, regardless of plan contents.
var defaultBlockedCommands = map[string]struct{}{
	"dd": {}, "mkfs": {}, "fdisk": {}, "parted": {}, "wipefs": {},
	"shred": {}, "srm": {},
}

// Credential is the SSH authentication material for one asset.
type Credential struct {
	User       string
	PrivateKey []byte
	Password   string
}

// Input is the step payload for a command/shell/script/powershell step.
type Input struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	SecretRefs map[string]secretstore.Ref `json:"secret_refs,omitempty"`
}

// Handler implements executor.Handler for the command step family.
type Handler struct {
	assets      asset.Client
	automation  automation.Client
	secrets     *safety.SecretResolver
	credentials map[string]Credential

	mu          sync.Mutex
	connections map[string]*ssh.Client
}

// New builds a command-family Handler.
func New(assets asset.Client, automation automation.Client, secrets *safety.SecretResolver, credentials map[string]Credential) *Handler {
	return &Handler{
		assets:      assets,
		automation:  automation,
		secrets:     secrets,
		credentials: credentials,
		connections: make(map[string]*ssh.Client),
	}
}

func (h *Handler) Name() string      { return "command" }
func (h *Handler) Aliases() []string { return []string{"shell", "script", "powershell"} }

// ResolveInputs decodes the step's raw JSON and resolves any secret
// references into the secret store's current values.
func (h *Handler) ResolveInputs(ctx context.Context, assetID string, rawInputs json.RawMessage) (executor.ResolvedInputs, error) {
	var in Input
	if err := json.Unmarshal(rawInputs, &in); err != nil {
		return nil, fmt.Errorf("exec: decode inputs: %w", err)
	}
	if in.Command == "" {
		return nil, fmt.Errorf("exec: command is required")
	}
	if reason := blockedCommandReason(in.Command); reason != "" {
		return nil, fmt.Errorf("exec: blocked command: %s", reason)
	}

	resolved := executor.ResolvedInputs{
		"command": in.Command,
		"args":    in.Args,
		"timeout": in.Timeout,
	}
	for name, ref := range in.SecretRefs {
		val, err := h.secrets.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("exec: resolve secret %s: %w", name, err)
		}
		resolved[name] = val
	}
	return resolved, nil
}

// Invoke dispatches the command to assetID, over SSH directly for ssh-host
// assets or through the automation service adapter otherwise.
func (h *Handler) Invoke(ctx context.Context, assetID string, inputs executor.ResolvedInputs) (executor.Outcome, error) {
	command, _ := inputs["command"].(string)

	a, err := h.assets.Get(ctx, assetID)
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("exec: resolve asset %s: %w", assetID, err)
	}

	var result *automation.CommandResult
	if a.Kind == "ssh-host" {
		result, err = h.runSSH(ctx, a.Address, command)
	} else {
		result, err = h.automation.Execute(ctx, automation.CommandRequest{
			AssetID: assetID,
			Command: command,
		})
	}
	if err != nil {
		return executor.Outcome{}, err
	}

	output, _ := json.Marshal(map[string]any{
		"exit_code": result.ExitCode,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"truncated": result.Truncated,
	})
	return executor.Outcome{
		Success: result.ExitCode == 0,
		Output:  output,
	}, nil
}

// CheckSuccess reports whether the dispatched command exited zero.
func (h *Handler) CheckSuccess(outcome executor.Outcome) bool {
	return outcome.Success
}

// DescribeError renders a safe summary of a command failure.
func (h *Handler) DescribeError(outcome executor.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return "command exited non-zero"
}

func (h *Handler) runSSH(ctx context.Context, host, command string) (*automation.CommandResult, error) {
	client, err := h.connection(host)
	if err != nil {
		return nil, fmt.Errorf("exec: ssh connect %s: %w", host, err)
	}

	session, err := client.NewSession()
	if err != nil {
		h.mu.Lock()
		delete(h.connections, host)
		h.mu.Unlock()
		return nil, fmt.Errorf("exec: ssh session %s: %w", host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case runErr := <-done:
		exitCode := 0
		truncated := false
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return nil, fmt.Errorf("exec: ssh run %s: %w", host, runErr)
			}
		}
		out, trunc := capOutput(stdout.String())
		truncated = truncated || trunc
		errOut, errTrunc := capOutput(stderr.String())
		truncated = truncated || errTrunc
		return &automation.CommandResult{
			ExitCode:  exitCode,
			Stdout:    out,
			Stderr:    errOut,
			Duration:  time.Since(start),
			Truncated: truncated,
		}, nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return nil, fmt.Errorf("exec: command timed out on %s", host)
	}
}

func (h *Handler) connection(host string) (*ssh.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.connections[host]; ok {
		return client, nil
	}

	cred, ok := h.credentials[host]
	if !ok {
		return nil, fmt.Errorf("no credential configured for host %q", host)
	}

	var methods []ssh.AuthMethod
	if len(cred.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cred.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key for %s: %w", host, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		methods = append(methods, ssh.Password(cred.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method for host %q", host)
	}

	config := &ssh.ClientConfig{
		User:            cred.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr += ":22"
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	h.connections[host] = client
	return client, nil
}

// Close tears down cached SSH connections.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for host, client := range h.connections {
		_ = client.Close()
		delete(h.connections, host)
	}
}

func capOutput(s string) (string, bool) {
	if len(s) <= maxOutputBytes {
		return s, false
	}
	return s[:maxOutputBytes] + "\n... [truncated]", true
}

func blockedCommandReason(cmd string) string {
	parts := strings.Fields(cmd)
	for _, part := range parts {
		if part == "|" || part == "&&" || part == "||" || part == ";" {
			continue
		}
		base := part
		if idx := strings.LastIndex(part, "/"); idx >= 0 {
			base = part[idx+1:]
		}
		if _, blocked := defaultBlockedCommands[strings.ToLower(base)]; blocked {
			return fmt.Sprintf("%s is never permitted via a command step", base)
		}
		break
	}
	return ""
}
