package observability

import "github.com/marcus-qen/stagee/internal/store"

// Progress is a computed (never stored) snapshot of an execution's
// completion state, per spec §4.6.
type Progress struct {
	ExecutionID   string  `json:"execution_id"`
	TotalSteps    int     `json:"total_steps"`
	CompletedSteps int    `json:"completed_steps"`
	RunningSteps  int     `json:"running_steps"`
	Fraction      float64 `json:"fraction"`
}

// ComputeProgress folds a step list into a Progress snapshot using the
// formula (completed + 0.5*running) / total.
func ComputeProgress(executionID string, steps []store.Step) Progress {
	p := Progress{ExecutionID: executionID, TotalSteps: len(steps)}
	for _, s := range steps {
		switch s.Status {
		case store.StepSucceeded, store.StepFailed, store.StepSkipped, store.StepCancelled:
			p.CompletedSteps++
		case store.StepRunning:
			p.RunningSteps++
		}
	}
	if p.TotalSteps == 0 {
		return p
	}
	p.Fraction = (float64(p.CompletedSteps) + 0.5*float64(p.RunningSteps)) / float64(p.TotalSteps)
	return p
}
