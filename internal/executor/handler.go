// Package executor drives the per-step dispatch algorithm (spec §4.4):
// mutex acquisition, secret resolution, deadline enforcement, and result
// recording, delegated per step-type family to a registered Handler. New
// step types are added by registering a handler, never by branching across
// call sites — grounded on the teacher's Tool/Registry pattern.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ResolvedInputs is a step's inputs after secret references have been
// substituted with their resolved values. Never logged or persisted as-is.
type ResolvedInputs map[string]any

// Outcome is the result of invoking a handler for one step.
type Outcome struct {
	Success bool
	Output  json.RawMessage
	// ErrorClass, when Success is false, is an optional handler-supplied
	// taxonomy class. The Executor does not read it: it records its own
	// error class on the step, and that is what the Queue & Workers retry
	// policy checks with IsRetryable.
	ErrorClass string
	ErrorMsg   string
}

// Handler implements one step-type family's dispatch contract.
type Handler interface {
	// Name returns the family identifier this handler serves, e.g. "command".
	Name() string

	// Aliases lists additional step-type strings that route to this handler.
	Aliases() []string

	// ResolveInputs prepares raw step inputs for invocation, substituting
	// secret references via the safety kernel's resolver. Implementations
	// must not retain the resolved values beyond the call.
	ResolveInputs(ctx context.Context, assetID string, rawInputs json.RawMessage) (ResolvedInputs, error)

	// Invoke dispatches the step against the target asset, honoring ctx's
	// deadline as the step budget.
	Invoke(ctx context.Context, assetID string, inputs ResolvedInputs) (Outcome, error)

	// CheckSuccess interprets an Outcome returned by Invoke, for handlers
	// whose underlying transport reports success/failure out of band from
	// Go error values (e.g. a nonzero exit code that is not itself a
	// dispatch failure).
	CheckSuccess(outcome Outcome) bool

	// DescribeError renders a user-safe error message for a failed Outcome
	// or dispatch error, never including raw secret material.
	DescribeError(outcome Outcome, err error) string
}

// Registry holds every registered step-family Handler, indexed by name and
// by alias.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h under its Name and every Alias.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
	for _, alias := range h.Aliases() {
		r.handlers[alias] = h
	}
}

// Resolve looks up the handler for a step-type string.
func (r *Registry) Resolve(stepType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("executor: no handler registered for step type %q", stepType)
	}
	return h, nil
}
