package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus-qen/stagee/internal/safety/blastradius"
	"github.com/marcus-qen/stagee/internal/store"
)

// planStep is the wire shape of one step inside a submitted plan. inputs
// may carry secret references (spec §3 invariant 6) but must never carry
// secret values; the engine does not attempt to detect that — it is the
// plan author's contract.
type planStep struct {
	StepType         string          `json:"step_type"`
	TargetRef        string          `json:"target_ref"`
	Inputs           json.RawMessage `json:"inputs"`
	ActionClass      string          `json:"action_class,omitempty"`
	EstimatedSeconds float64         `json:"estimated_duration_seconds,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

// plan is the wire shape of a submitted execution plan (spec §4.3 inputs).
type plan struct {
	Steps              []planStep `json:"steps"`
	EstimatedSeconds   float64    `json:"estimated_duration_seconds,omitempty"`
	RequiresApproval   bool       `json:"requires_approval,omitempty"`
	RequiredApproverOf string     `json:"required_approver_role,omitempty"`
}

func (p plan) validate() error {
	if len(p.Steps) == 0 {
		return validationError("plan must contain at least one step")
	}
	for i, step := range p.Steps {
		if step.StepType == "" {
			return validationError(fmt.Sprintf("step %d: step_type is required", i))
		}
		if step.TargetRef == "" {
			return validationError(fmt.Sprintf("step %d: target_ref is required", i))
		}
		if len(step.Inputs) == 0 {
			step.Inputs = json.RawMessage(`{}`)
			p.Steps[i] = step
		}
	}
	return nil
}

// stepActionClass maps a step's declared action class, or a family-based
// default when the step omits one, onto the spec's four-way taxonomy.
// Grounded on the teacher's tools/capability.go ActionTier enum, folded down
// from its four-tier risk scale to the spec's four action classes.
func stepActionClass(step planStep) store.ActionClass {
	switch store.ActionClass(step.ActionClass) {
	case store.ActionInformation, store.ActionOperational, store.ActionDiagnostic, store.ActionProvisioning:
		return store.ActionClass(step.ActionClass)
	}
	switch step.StepType {
	case "api", "http", "rest", "asset-query", "asset-list":
		return store.ActionInformation
	case "validation", "check", "verify":
		return store.ActionDiagnostic
	case "file", "copy", "transfer", "database", "sql":
		return store.ActionProvisioning
	default:
		return store.ActionOperational
	}
}

// planActionClass resolves Open Question 1: a mixed plan's class is its
// highest-risk step's class.
func planActionClass(p plan) store.ActionClass {
	class := store.ActionInformation
	for _, step := range p.Steps {
		class = store.HighestActionClass(class, stepActionClass(step))
	}
	return class
}

// planEstimate returns the plan's total estimated duration: the plan-level
// estimate if given, otherwise the sum of its steps' estimates.
func planEstimate(p plan) time.Duration {
	if p.EstimatedSeconds > 0 {
		return time.Duration(p.EstimatedSeconds * float64(time.Second))
	}
	var total float64
	for _, step := range p.Steps {
		total += step.EstimatedSeconds
	}
	return time.Duration(total * float64(time.Second))
}

// slaClassFor computes the SLA class from an estimated total duration (spec
// §4.3 step 2): fast under ~10s, long over ~5min, medium otherwise.
func slaClassFor(estimate time.Duration) store.SLAClass {
	switch {
	case estimate < 10*time.Second:
		return store.SLAFast
	case estimate > 5*time.Minute:
		return store.SLALong
	default:
		return store.SLAMedium
	}
}

var blastScorer = blastradius.NewDeterministicScorer()

// planBlastRadius assesses the spread of a plan's targets, independent of
// per-step action class. Each step counts as one target (steps sharing a
// target_ref are counted separately), so many steps, or steps spanning more
// than one step-type domain, raise the score even when every individual
// step is low-risk on its own.
func planBlastRadius(p plan, actionClass store.ActionClass, actorRoles []string) blastradius.Assessment {
	domains := map[string]struct{}{}
	targets := make([]blastradius.Target, 0, len(p.Steps))
	for _, step := range p.Steps {
		domains[step.StepType] = struct{}{}
		targets = append(targets, blastradius.Target{
			Kind:   step.StepType,
			Name:   step.TargetRef,
			Domain: step.StepType,
		})
	}
	return blastScorer.Assess(blastradius.Input{
		Tier:       actionClass,
		Targets:    targets,
		ActorRoles: actorRoles,
	})
}

// requiresApproval decides whether a plan must pass through the approval
// gate before admission (spec §4.3 step 8): an explicit plan attribute, an
// action class of provisioning (the highest-risk tier), or a blast-radius
// assessment that independently flags the target spread as approval-worthy.
func requiresApproval(p plan, actionClass store.ActionClass, radius blastradius.Assessment) bool {
	if p.RequiresApproval {
		return true
	}
	if actionClass == store.ActionProvisioning {
		return true
	}
	return radius.Requirements.ApprovalRequired
}

func stepsFromPlan(executionID string, p plan) []store.Step {
	steps := make([]store.Step, 0, len(p.Steps))
	for i, ps := range p.Steps {
		inputs := ps.Inputs
		if len(inputs) == 0 {
			inputs = json.RawMessage(`{}`)
		}
		steps = append(steps, store.Step{
			ExecutionID: executionID,
			Sequence:    i,
			Type:        ps.StepType,
			AssetID:     ps.TargetRef,
			Inputs:      inputs,
			Status:      store.StepPending,
		})
	}
	return steps
}
