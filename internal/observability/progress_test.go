package observability

import (
	"testing"

	"github.com/marcus-qen/stagee/internal/store"
)

func TestComputeProgress_Empty(t *testing.T) {
	p := ComputeProgress("exec-1", nil)
	if p.TotalSteps != 0 || p.Fraction != 0 {
		t.Errorf("got %+v, want zero progress", p)
	}
}

func TestComputeProgress_MixedStatuses(t *testing.T) {
	steps := []store.Step{
		{Status: store.StepSucceeded},
		{Status: store.StepFailed},
		{Status: store.StepRunning},
		{Status: store.StepPending},
	}
	p := ComputeProgress("exec-2", steps)
	if p.TotalSteps != 4 {
		t.Errorf("TotalSteps = %d, want 4", p.TotalSteps)
	}
	if p.CompletedSteps != 2 {
		t.Errorf("CompletedSteps = %d, want 2", p.CompletedSteps)
	}
	if p.RunningSteps != 1 {
		t.Errorf("RunningSteps = %d, want 1", p.RunningSteps)
	}
	want := (2.0 + 0.5*1.0) / 4.0
	if p.Fraction != want {
		t.Errorf("Fraction = %v, want %v", p.Fraction, want)
	}
}

func TestComputeProgress_AllSucceeded(t *testing.T) {
	steps := []store.Step{
		{Status: store.StepSucceeded},
		{Status: store.StepSucceeded},
	}
	p := ComputeProgress("exec-3", steps)
	if p.Fraction != 1.0 {
		t.Errorf("Fraction = %v, want 1.0", p.Fraction)
	}
}

func TestComputeProgress_SkippedAndCancelledCountAsCompleted(t *testing.T) {
	steps := []store.Step{
		{Status: store.StepSkipped},
		{Status: store.StepCancelled},
	}
	p := ComputeProgress("exec-4", steps)
	if p.CompletedSteps != 2 {
		t.Errorf("CompletedSteps = %d, want 2", p.CompletedSteps)
	}
	if p.Fraction != 1.0 {
		t.Errorf("Fraction = %v, want 1.0", p.Fraction)
	}
}
