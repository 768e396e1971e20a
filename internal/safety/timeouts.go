package safety

import (
	"context"
	"time"

	"github.com/marcus-qen/stagee/internal/store"
)

// Deadlines resolves and enforces the per-step and per-execution time
// budgets defined by an SLA class's TimeoutPolicy (spec §4.4). Policies are
// seeded once at install time and treated as read-only here.
type Deadlines struct {
	store *store.Store
}

// NewDeadlines builds a Deadlines guard over st.
func NewDeadlines(st *store.Store) *Deadlines {
	return &Deadlines{store: st}
}

// StepContext returns a context bounded by the step timeout for class, along
// with its cancel func which the caller must invoke once the step completes.
func (d *Deadlines) StepContext(ctx context.Context, class store.SLAClass) (context.Context, context.CancelFunc, error) {
	policy, err := d.store.GetTimeoutPolicy(ctx, class)
	if err != nil {
		return nil, nil, err
	}
	stepCtx, cancel := context.WithTimeout(ctx, policy.StepTimeout)
	return stepCtx, cancel, nil
}

// ExecutionDeadline returns the wall-clock instant by which class's total
// execution budget is exhausted, measured from startedAt.
func (d *Deadlines) ExecutionDeadline(ctx context.Context, class store.SLAClass, startedAt time.Time) (time.Time, error) {
	policy, err := d.store.GetTimeoutPolicy(ctx, class)
	if err != nil {
		return time.Time{}, err
	}
	return startedAt.Add(policy.ExecutionBudget), nil
}
