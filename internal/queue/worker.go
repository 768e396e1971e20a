// Package queue implements the Queue & Workers component (spec §4.5):
// lease-based dequeue, a supervised worker pool, retry/backoff, and
// dead-letter handling. Restructured from the teacher's push/WebSocket
// scheduler (internal/controlplane/jobs/scheduler.go) to a pull/lease model
// against the Store, since Stage E has no always-connected probe to push to.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/stagee/internal/adapters/rbacdirectory"
	"github.com/marcus-qen/stagee/internal/executor"
	"github.com/marcus-qen/stagee/internal/observability"
	"github.com/marcus-qen/stagee/internal/safety"
	"github.com/marcus-qen/stagee/internal/store"
	"github.com/marcus-qen/stagee/internal/telemetry"
	"github.com/marcus-qen/stagee/internal/tenant"
)

// Config tunes the worker pool's lease and polling behaviour.
type Config struct {
	WorkerCount     int
	LeaseDuration   time.Duration
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Pool supervises a configured number of workers pulling leased QueueItems
// and running the Executor Core against their executions.
type Pool struct {
	store     *store.Store
	executor  *executor.Executor
	rbac      *safety.RBACGuard
	directory rbacdirectory.Directory
	cfg       Config
	log       *zap.Logger

	ownerID string
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics     *observability.Metrics
	tenantQuota *tenant.Enforcer
}

// WithMetrics attaches the Metrics collectors the Pool reports queue wait
// time and execution outcomes to. Optional: a Pool with none attached still
// runs correctly.
func (p *Pool) WithMetrics(metrics *observability.Metrics) *Pool {
	p.metrics = metrics
	return p
}

// WithTenantQuota attaches the per-tenant concurrency Enforcer the Pool
// releases a slot on when a background execution finishes. Optional: a Pool
// with none attached still runs correctly, just without the release.
func (p *Pool) WithTenantQuota(e *tenant.Enforcer) *Pool {
	p.tenantQuota = e
	return p
}

// New builds a worker Pool. Each Pool instance (one per process) gets a
// unique owner id used as the lease holder identity.
func New(st *store.Store, exec *executor.Executor, rbac *safety.RBACGuard, directory rbacdirectory.Directory, cfg Config, log *zap.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Pool{
		store:     st,
		executor:  exec,
		rbac:      rbac,
		directory: directory,
		cfg:       cfg,
		log:       log,
		ownerID:   "worker-" + uuid.NewString(),
	}
}

// Start launches the configured worker count, each running an independent
// dequeue loop.
func (p *Pool) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.runLoop(loopCtx, i)
	}
}

// Stop stops dequeuing, lets in-flight items finish up to ShutdownTimeout,
// then returns. Remaining leases expire naturally; Dequeue hands an item
// whose lease has expired to the next worker that polls.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.log.Warn("worker pool shutdown timed out; in-flight leases will expire naturally")
	}
}

func (p *Pool) runLoop(ctx context.Context, workerIndex int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := p.store.Dequeue(ctx, p.ownerID, p.cfg.LeaseDuration)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				p.log.Warn("dequeue failed", zap.Error(err), zap.Int("worker", workerIndex))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		if p.metrics != nil {
			p.metrics.QueueWaitSeconds.WithLabelValues(string(item.SLAClass)).Observe(time.Since(item.CreatedAt).Seconds())
		}
		p.process(ctx, item)
	}
}

// process runs the worker loop's seven steps for one leased item (spec
// §4.5): RBAC revalidation, lease-renewal subtask, Executor Core, then ack,
// retry, or DLQ depending on outcome.
func (p *Pool) process(ctx context.Context, item *store.QueueItem) {
	ctx, dispatchSpan := telemetry.StartDispatchSpan(ctx, item.ExecutionID, item.Attempt)
	defer dispatchSpan.End()

	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	p.wg.Add(1)
	go p.renewLease(renewCtx, item.ID)

	exec, err := p.store.GetExecution(ctx, item.TenantID, item.ExecutionID)
	if err != nil {
		p.log.Error("lookup execution for queue item failed", zap.Error(err), zap.String("execution_id", item.ExecutionID))
		p.finishFailed(ctx, item, "store lookup failed", false)
		return
	}
	if p.tenantQuota != nil {
		defer p.tenantQuota.RecordEnd(exec.TenantID)
	}

	if err := p.rbac.Authorize(ctx, exec.ActorID, exec.TenantID, rbacdirectory.PermCommandExec); err != nil {
		p.denyRBAC(ctx, exec, item, err)
		return
	}

	if exec.Status == store.ExecutionQueued {
		exec, err = p.store.TransitionExecution(ctx, exec.TenantID, exec.ID,
			[]store.ExecutionStatus{store.ExecutionQueued}, store.ExecutionRunning,
			func(e *store.Execution) {
				now := time.Now().UTC()
				e.StartedAt = &now
			})
		if err != nil {
			p.log.Error("transition execution to running failed", zap.Error(err))
			p.finishFailed(ctx, item, err.Error(), true)
			return
		}
	}

	status, runErr := p.executor.Run(ctx, exec)
	if runErr != nil {
		p.finishFailed(ctx, item, runErr.Error(), true)
		return
	}

	if _, err := p.store.TransitionExecution(ctx, exec.TenantID, exec.ID,
		[]store.ExecutionStatus{store.ExecutionRunning}, status,
		func(e *store.Execution) {
			now := time.Now().UTC()
			e.EndedAt = &now
		}); err != nil {
		p.log.Error("transition execution to terminal status failed", zap.Error(err))
	}

	if p.metrics != nil {
		p.metrics.ExecutionsTotal.WithLabelValues(string(status), string(item.SLAClass)).Inc()
	}

	switch status {
	case store.ExecutionSucceeded, store.ExecutionCancelled:
		if err := p.store.CompleteQueueItem(ctx, item.ID); err != nil {
			p.log.Error("ack queue item failed", zap.Error(err))
		}
	default:
		retryable := true
		if steps, err := p.store.ListSteps(ctx, exec.ID); err == nil {
			for _, s := range steps {
				if s.Status == store.StepFailed {
					retryable = executor.IsRetryable(s.ErrorClass)
					break
				}
			}
		}
		p.finishFailed(ctx, item, "execution did not succeed: "+string(status), retryable)
	}
}

// denyRBAC handles a failed worker-side RBAC revalidation (spec §4.2.3):
// tenant mismatches and ordinary permission denials both emit a distinct
// rbac_violation audit event, and the execution is moved to its terminal
// failed state rather than left stranded in queued/running with its only
// queue item dead-lettered.
func (p *Pool) denyRBAC(ctx context.Context, exec *store.Execution, item *store.QueueItem, authErr error) {
	errorClass := "PermissionError"
	var mismatch *safety.ErrTenantMismatch
	if errors.As(authErr, &mismatch) {
		errorClass = "TenantMismatch"
	}

	if _, err := p.store.AppendEvent(ctx, exec.ID, store.EventRBACViolation, map[string]string{
		"error_class": errorClass,
		"reason":      authErr.Error(),
	}); err != nil {
		p.log.Error("append rbac_violation event failed", zap.Error(err), zap.String("execution_id", exec.ID))
	}

	if _, err := p.store.TransitionExecution(ctx, exec.TenantID, exec.ID,
		[]store.ExecutionStatus{store.ExecutionQueued, store.ExecutionRunning}, store.ExecutionFailed,
		func(e *store.Execution) {
			now := time.Now().UTC()
			e.EndedAt = &now
		}); err != nil {
		p.log.Error("transition execution to failed after rbac denial failed", zap.Error(err), zap.String("execution_id", exec.ID))
	}

	p.finishFailed(ctx, item, authErr.Error(), false)
}

// finishFailed routes a failed queue item to a backoff retry or the DLQ,
// resolving Open Question 2's retryable/non-retryable split.
func (p *Pool) finishFailed(ctx context.Context, item *store.QueueItem, lastErr string, retryable bool) {
	if retryable && item.Attempt+1 < item.MaxAttempts {
		delay := nextBackoff(item.Attempt)
		ok, err := p.store.RetryQueueItem(ctx, item.ID, item.Attempt+1, delay)
		if err == nil && ok {
			return
		}
	}
	if _, err := p.store.MoveToDLQ(ctx, *item, lastErr); err != nil {
		p.log.Error("move to dlq failed", zap.Error(err), zap.String("execution_id", item.ExecutionID))
	}
}

// renewLease periodically extends the lease on item until ctx is cancelled,
// so a long-running step doesn't lose its lease to another worker mid-flight.
func (p *Pool) renewLease(ctx context.Context, itemID string) {
	defer p.wg.Done()
	interval := p.cfg.LeaseDuration / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.RenewLease(ctx, itemID, p.ownerID, p.cfg.LeaseDuration); err != nil {
				p.log.Warn("renew lease failed", zap.Error(err), zap.String("queue_item_id", itemID))
			}
		}
	}
}

// nextBackoff computes an exponential, jittered delay for a retry attempt,
// replacing the teacher's un-jittered nextRetryDelay with cenkalti/backoff's
// randomized exponential policy.
func nextBackoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 2 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.3

	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		next, err := b.NextBackOff()
		if err != nil {
			break
		}
		delay = next
	}
	return delay
}
