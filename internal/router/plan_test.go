package router

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/marcus-qen/stagee/internal/store"
)

func TestPlanValidate_RejectsEmptyPlan(t *testing.T) {
	p := plan{}
	if err := p.validate(); err == nil {
		t.Error("expected error for plan with no steps")
	}
}

func TestPlanValidate_RejectsMissingStepType(t *testing.T) {
	p := plan{Steps: []planStep{{TargetRef: "host-1"}}}
	if err := p.validate(); err == nil {
		t.Error("expected error for missing step_type")
	}
}

func TestPlanValidate_RejectsMissingTargetRef(t *testing.T) {
	p := plan{Steps: []planStep{{StepType: "command"}}}
	if err := p.validate(); err == nil {
		t.Error("expected error for missing target_ref")
	}
}

func TestPlanValidate_DefaultsEmptyInputs(t *testing.T) {
	p := plan{Steps: []planStep{{StepType: "command", TargetRef: "host-1"}}}
	if err := p.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(p.Steps[0].Inputs) != `{}` {
		t.Errorf("Inputs = %q, want {}", p.Steps[0].Inputs)
	}
}

func TestStepActionClass_ExplicitValueHonored(t *testing.T) {
	step := planStep{StepType: "command", ActionClass: "provisioning"}
	if got := stepActionClass(step); got != store.ActionProvisioning {
		t.Errorf("stepActionClass = %v, want ActionProvisioning", got)
	}
}

func TestStepActionClass_FamilyDefaults(t *testing.T) {
	cases := []struct {
		stepType string
		want     store.ActionClass
	}{
		{"http", store.ActionInformation},
		{"check", store.ActionDiagnostic},
		{"sql", store.ActionProvisioning},
		{"command", store.ActionOperational},
	}
	for _, tc := range cases {
		step := planStep{StepType: tc.stepType}
		if got := stepActionClass(step); got != tc.want {
			t.Errorf("stepActionClass(%q) = %v, want %v", tc.stepType, got, tc.want)
		}
	}
}

func TestPlanActionClass_TakesHighestAcrossSteps(t *testing.T) {
	p := plan{Steps: []planStep{
		{StepType: "http"},
		{StepType: "sql"},
		{StepType: "check"},
	}}
	if got := planActionClass(p); got != store.ActionProvisioning {
		t.Errorf("planActionClass = %v, want ActionProvisioning", got)
	}
}

func TestPlanEstimate_PrefersPlanLevelEstimate(t *testing.T) {
	p := plan{
		EstimatedSeconds: 30,
		Steps:            []planStep{{EstimatedSeconds: 5}, {EstimatedSeconds: 5}},
	}
	if got := planEstimate(p); got != 30*time.Second {
		t.Errorf("planEstimate = %v, want 30s", got)
	}
}

func TestPlanEstimate_SumsStepsWhenUnset(t *testing.T) {
	p := plan{Steps: []planStep{{EstimatedSeconds: 5}, {EstimatedSeconds: 7}}}
	if got := planEstimate(p); got != 12*time.Second {
		t.Errorf("planEstimate = %v, want 12s", got)
	}
}

func TestSLAClassFor(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want store.SLAClass
	}{
		{5 * time.Second, store.SLAFast},
		{time.Minute, store.SLAMedium},
		{10 * time.Minute, store.SLALong},
	}
	for _, tc := range cases {
		if got := slaClassFor(tc.d); got != tc.want {
			t.Errorf("slaClassFor(%v) = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestRequiresApproval_ExplicitFlag(t *testing.T) {
	p := plan{RequiresApproval: true}
	if !requiresApproval(p, store.ActionInformation, planBlastRadius(p, store.ActionInformation, nil)) {
		t.Error("expected approval required when plan sets the explicit flag")
	}
}

func TestRequiresApproval_ProvisioningAlwaysRequiresApproval(t *testing.T) {
	p := plan{Steps: []planStep{{StepType: "sql", TargetRef: "db-1"}}}
	radius := planBlastRadius(p, store.ActionProvisioning, nil)
	if !requiresApproval(p, store.ActionProvisioning, radius) {
		t.Error("expected approval required for provisioning action class")
	}
}

func TestRequiresApproval_LowRiskSingleTargetDoesNotRequireApproval(t *testing.T) {
	p := plan{Steps: []planStep{{StepType: "http", TargetRef: "api-1"}}}
	radius := planBlastRadius(p, store.ActionInformation, nil)
	if requiresApproval(p, store.ActionInformation, radius) {
		t.Error("expected no approval required for a single low-risk read target")
	}
}

func TestStepsFromPlan_PreservesSequenceAndDefaultsInputs(t *testing.T) {
	p := plan{Steps: []planStep{
		{StepType: "command", TargetRef: "host-1", Inputs: json.RawMessage(`{"a":1}`)},
		{StepType: "http", TargetRef: "api-1"},
	}}
	steps := stepsFromPlan("exec-1", p)
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Sequence != 0 || steps[1].Sequence != 1 {
		t.Errorf("sequence not preserved: %d, %d", steps[0].Sequence, steps[1].Sequence)
	}
	if string(steps[1].Inputs) != `{}` {
		t.Errorf("Inputs = %q, want {}", steps[1].Inputs)
	}
	if steps[0].Status != store.StepPending {
		t.Errorf("Status = %v, want StepPending", steps[0].Status)
	}
}
