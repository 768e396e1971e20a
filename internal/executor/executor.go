package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/stagee/internal/observability"
	"github.com/marcus-qen/stagee/internal/safety"
	"github.com/marcus-qen/stagee/internal/store"
	"github.com/marcus-qen/stagee/internal/telemetry"
)

// nonRetryableErrorClasses is the explicit deny-list resolving Open Question
// 2: every adapter error is retryable up to max_attempts except these.
var nonRetryableErrorClasses = map[string]struct{}{
	"ValidationError":        {},
	"PermissionError":        {},
	"TenantMismatch":         {},
	"IllegalStateTransition": {},
	"Cancelled":              {},
}

// IsRetryable reports whether a step failure of the given error class should
// be retried by the Queue & Workers layer.
func IsRetryable(errorClass string) bool {
	_, nonRetryable := nonRetryableErrorClasses[errorClass]
	return !nonRetryable
}

// Executor drives the per-step dispatch algorithm (spec §4.4) under the
// Safety Kernel's guards. It holds no per-execution state between calls:
// every fact it needs is re-read from the Store so a crashed worker can
// resume on any other worker.
type Executor struct {
	store        *store.Store
	registry     *Registry
	mutex        *safety.AssetMutex
	cancellation *safety.CancellationChecker
	deadlines    *safety.Deadlines
	leaseMargin  time.Duration
	log          *zap.Logger

	metrics *observability.Metrics
	events  *observability.Bus
}

// New builds an Executor.
func New(st *store.Store, registry *Registry, mutex *safety.AssetMutex, cancellation *safety.CancellationChecker, deadlines *safety.Deadlines, leaseMargin time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		store:        st,
		registry:     registry,
		mutex:        mutex,
		cancellation: cancellation,
		deadlines:    deadlines,
		leaseMargin:  leaseMargin,
		log:          log,
	}
}

// WithObservability attaches the Metrics and Bus instances the Executor
// reports step duration and events to. Both are optional: an Executor with
// neither set still runs correctly, just without that telemetry.
func (e *Executor) WithObservability(metrics *observability.Metrics, events *observability.Bus) *Executor {
	e.metrics = metrics
	e.events = events
	return e
}

// publish appends ev to the Store and, if a Bus is attached, fans it out to
// live subscribers.
func (e *Executor) publish(ctx context.Context, executionID string, kind store.EventKind, detail any) {
	ev, err := e.store.AppendEvent(ctx, executionID, kind, detail)
	if err != nil {
		e.log.Error("append event", zap.Error(err), zap.String("execution_id", executionID))
		return
	}
	if e.events != nil {
		e.events.PublishFromStore(ctx, ev)
	}
}

// Run executes every pending step of exec in sequence, stopping at the first
// failure, timeout, or observed cancellation. It returns the execution's
// final status; the caller is responsible for persisting the Execution FSM
// transition to that status.
func (e *Executor) Run(ctx context.Context, exec *store.Execution) (store.ExecutionStatus, error) {
	ctx, span := telemetry.StartExecutionSpan(ctx, exec.ID, string(exec.SLAClass))
	defer span.End()

	steps, err := e.store.ListSteps(ctx, exec.ID)
	if err != nil {
		return store.ExecutionFailed, err
	}

	for i := range steps {
		step := steps[i]
		if step.Status != store.StepPending {
			continue
		}

		cancelled, err := e.cancellation.IsCancelled(ctx, exec.TenantID, exec.ID)
		if err != nil {
			e.log.Warn("cancellation check failed, proceeding", zap.Error(err), zap.String("execution_id", exec.ID))
		}
		if cancelled {
			e.publish(ctx, exec.ID, store.EventExecutionCancelled, map[string]string{"step_id": step.ID})
			return store.ExecutionCancelled, nil
		}

		status, err := e.runStep(ctx, exec, &step)
		if err != nil {
			return store.ExecutionFailed, err
		}
		if status == store.StepFailed {
			return store.ExecutionFailed, nil
		}
		if status == store.StepCancelled {
			return store.ExecutionCancelled, nil
		}
	}
	return store.ExecutionSucceeded, nil
}

// runStep carries out the 9-step per-step algorithm for a single step.
func (e *Executor) runStep(ctx context.Context, exec *store.Execution, step *store.Step) (store.StepStatus, error) {
	ctx, span := telemetry.StartStepSpan(ctx, step.ID, step.Type, step.AssetID)
	defer func() { telemetry.EndStepSpan(span, string(step.Status), step.ErrorClass) }()

	now := time.Now().UTC()
	step.Status = store.StepRunning
	step.StartedAt = &now
	if err := e.store.UpdateStep(ctx, *step); err != nil {
		return store.StepFailed, err
	}

	handler, err := e.registry.Resolve(step.Type)
	if err != nil {
		return e.finishStep(ctx, exec, step, Outcome{}, err, "ValidationError")
	}

	stepCtx, cancel, err := e.deadlines.StepContext(ctx, exec.SLAClass)
	if err != nil {
		return e.finishStep(ctx, exec, step, Outcome{}, err, "Unavailable")
	}
	defer cancel()

	inputs, err := handler.ResolveInputs(stepCtx, step.AssetID, step.Inputs)
	if err != nil {
		return e.finishStep(ctx, exec, step, Outcome{}, err, "ValidationError")
	}

	mutexTTL := e.leaseMargin
	if deadline, ok := stepCtx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > mutexTTL {
			mutexTTL = remaining
		}
	}
	if err := e.mutex.Acquire(stepCtx, exec.TenantID, step.AssetID, step.Type, exec.ID, step.ID, mutexTTL); err != nil {
		return e.finishStep(ctx, exec, step, Outcome{}, err, "ResourceBusyError")
	}
	defer func() {
		if err := e.mutex.Release(context.Background(), exec.TenantID, step.AssetID, step.Type, exec.ID, step.ID); err != nil {
			e.log.Error("release asset mutex", zap.Error(err), zap.String("asset_id", step.AssetID))
		}
	}()

	outcome, invokeErr := handler.Invoke(stepCtx, step.AssetID, inputs)

	if stepCtx.Err() != nil {
		return e.finishStep(ctx, exec, step, outcome, stepCtx.Err(), "Timeout")
	}

	if invokeErr != nil {
		return e.finishStep(ctx, exec, step, outcome, invokeErr, "AdapterError")
	}
	if !handler.CheckSuccess(outcome) {
		msg := handler.DescribeError(outcome, nil)
		return e.finishStep(ctx, exec, step, outcome, fmtError(msg), "StepFailure")
	}

	return e.finishStep(ctx, exec, step, outcome, nil, "")
}

// finishStep records the final state of a step (success or failure) and
// appends its completion event. It returns the resulting StepStatus.
func (e *Executor) finishStep(ctx context.Context, exec *store.Execution, step *store.Step, outcome Outcome, stepErr error, errorClass string) (store.StepStatus, error) {
	now := time.Now().UTC()
	step.EndedAt = &now

	if stepErr == nil {
		step.Status = store.StepSucceeded
		step.Result = outcome.Output
	} else if errorClass == "Timeout" {
		step.Status = store.StepFailed
		step.ErrorClass = "Timeout"
		step.ErrorMsg = "step exceeded its time budget"
	} else {
		step.Status = store.StepFailed
		step.ErrorClass = errorClass
		step.ErrorMsg = safeErrorMessage(stepErr)
	}

	if err := e.store.UpdateStep(ctx, *step); err != nil {
		return store.StepFailed, err
	}

	if e.metrics != nil && step.StartedAt != nil {
		e.metrics.StepDurationSeconds.WithLabelValues(step.Type, string(step.Status)).Observe(step.EndedAt.Sub(*step.StartedAt).Seconds())
	}

	detail := map[string]any{
		"step_id":     step.ID,
		"status":      step.Status,
		"error_class": step.ErrorClass,
	}
	e.publish(ctx, exec.ID, store.EventStepFinished, detail)

	return step.Status, nil
}

func safeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type stepError string

func (e stepError) Error() string { return string(e) }

func fmtError(msg string) error {
	return stepError(msg)
}
