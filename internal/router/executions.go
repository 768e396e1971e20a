package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marcus-qen/stagee/internal/adapters/rbacdirectory"
	"github.com/marcus-qen/stagee/internal/observability"
	"github.com/marcus-qen/stagee/internal/store"
	"github.com/marcus-qen/stagee/internal/telemetry"
)

// idempotencyHitStatuses are the prior-execution statuses that make a second
// call with the same (tenant, idempotency_key) a cache hit rather than a
// fresh submission (spec §4.2.1/§4.3 step 6). A prior execution in {failed,
// cancelled} never counts: those are exactly the statuses CreateExecution's
// own dedup check lets a new row supersede.
func isIdempotencyHit(status store.ExecutionStatus) bool {
	return status != store.ExecutionFailed && status != store.ExecutionCancelled
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// actorContext is the tenant/actor pair every request carries, per spec
// §4.3's "Headers supply actor/tenant".
type actorContext struct {
	TenantID string
	ActorID  string
}

func actorFromRequest(r *http.Request) (actorContext, error) {
	ac := actorContext{
		TenantID: r.Header.Get("X-Tenant-ID"),
		ActorID:  r.Header.Get("X-Actor-ID"),
	}
	if ac.TenantID == "" || ac.ActorID == "" {
		return ac, validationError("X-Tenant-ID and X-Actor-ID headers are required")
	}
	return ac, nil
}

type executeRequest struct {
	Plan           plan   `json:"plan"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Preferences    struct {
		Background bool `json:"background,omitempty"`
	} `json:"preferences,omitempty"`
}

type executeResponse struct {
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// handleExecute implements the Router's 9-step admission contract (spec
// §4.3) for POST /execute and POST /executions.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	ac, err := actorFromRequest(r)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "ValidationError", "could not read request body", "")
		return
	}
	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "ValidationError", "malformed request body", "")
		return
	}

	if s.tenantQuota != nil {
		if err := s.tenantQuota.CheckCanStart(ac.TenantID); err != nil {
			writeJSONError(w, http.StatusTooManyRequests, "ResourceBusyError", err.Error(), "")
			return
		}
	}

	// Step 1: validate plan shape.
	if err := req.Plan.validate(); err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}

	// Steps 2-3: SLA class and action class.
	estimate := planEstimate(req.Plan)
	slaClass := slaClassFor(estimate)
	actionClass := planActionClass(req.Plan)

	// Step 4: immediate vs background mode.
	background := req.Preferences.Background || slaClass != store.SLAFast || estimate > s.cfg.ImmediateBudget

	// Step 5: timeout policy lookup (validates the SLA class is configured).
	policy, err := s.store.GetTimeoutPolicy(r.Context(), slaClass)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}

	// Step 6: idempotency.
	planJSON, err := json.Marshal(req.Plan)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "ValidationError", "plan could not be serialized", "")
		return
	}
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey, err = s.idempotency(ac.TenantID, ac.ActorID, planJSON)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "ValidationError", "could not compute idempotency key", "")
			return
		}
	}

	// A second call with the same (tenant, idempotency_key) within the dedup
	// window returns the prior execution's cached outcome instead of
	// re-running the plan (spec §8 scenario 1), unless that prior execution
	// already ended in {failed, cancelled}, in which case a fresh one is let
	// through under the same key.
	if prior, err := s.store.GetByIdempotencyKey(r.Context(), ac.TenantID, idempotencyKey, s.cfg.DedupWindow); err == nil {
		if isIdempotencyHit(prior.Status) {
			s.writeIdempotencyHit(w, r, prior)
			return
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}

	// Step 7: RBAC, once at admission for every distinct step type requested.
	seenTypes := map[string]bool{}
	for _, step := range req.Plan.Steps {
		if seenTypes[step.StepType] {
			continue
		}
		seenTypes[step.StepType] = true
		if err := s.rbac.Authorize(r.Context(), ac.ActorID, ac.TenantID, rbacdirectory.PermCommandExec); err != nil {
			status, class, msg := classifyError(err)
			writeJSONError(w, status, class, msg, "")
			return
		}
	}

	radius := planBlastRadius(req.Plan, actionClass, nil)
	needsApproval := requiresApproval(req.Plan, actionClass, radius)
	status := store.ExecutionQueued
	if needsApproval {
		status = store.ExecutionPendingApproval
	}

	exec := store.Execution{
		TenantID:       ac.TenantID,
		ActorID:        ac.ActorID,
		IdempotencyKey: idempotencyKey,
		SLAClass:       slaClass,
		ActionClass:    actionClass,
		Status:         status,
		PlanSnapshot:   planJSON,
	}
	created, err := s.store.CreateExecution(r.Context(), exec, s.cfg.DedupWindow)
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// Lost a race against a concurrent submission under the same key
		// between the lookup above and this insert. Re-fetch and serve the
		// same cached-outcome response the non-racing path would have.
		if prior, lookupErr := s.store.GetByIdempotencyKey(r.Context(), ac.TenantID, idempotencyKey, s.cfg.DedupWindow); lookupErr == nil {
			s.writeIdempotencyHit(w, r, prior)
			return
		}
	}
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}

	if err := s.store.CreateSteps(r.Context(), stepsFromPlan(created.ID, req.Plan)); err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, created.ID)
		return
	}
	s.appendEvent(r.Context(), created.ID, store.EventExecutionCreated, map[string]any{"sla_class": slaClass, "action_class": actionClass})

	if needsApproval {
		expires := time.Now().UTC().Add(policy.ExecutionBudget)
		if _, err := s.store.RequestApproval(r.Context(), created.ID, &expires); err != nil {
			status, class, msg := classifyError(err)
			writeJSONError(w, status, class, msg, created.ID)
			return
		}
		s.appendEvent(r.Context(), created.ID, store.EventApprovalRequested, nil)
		writeJSON(w, http.StatusAccepted, executeResponse{ExecutionID: created.ID, Status: string(store.ExecutionPendingApproval)})
		return
	}

	if s.tenantQuota != nil {
		s.tenantQuota.RecordStart(ac.TenantID)
	}

	if !background {
		s.runImmediate(w, r, created)
		return
	}

	if _, err := s.store.Enqueue(r.Context(), created.ID, ac.TenantID, slaClass, policy.MaxAttempts); err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, created.ID)
		return
	}
	s.appendEvent(r.Context(), created.ID, store.EventExecutionQueued, nil)
	writeJSON(w, http.StatusAccepted, executeResponse{ExecutionID: created.ID, Status: string(store.ExecutionQueued)})
}

// runImmediate synchronously invokes the Executor Core under the execution
// budget and returns the final result (spec §4.3 step 9, immediate branch).
func (s *Server) runImmediate(w http.ResponseWriter, r *http.Request, exec *store.Execution) {
	deadline, err := s.deadlines.ExecutionDeadline(r.Context(), exec.SLAClass, time.Now().UTC())
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, exec.ID)
		return
	}
	ctx, cancel := context.WithDeadline(r.Context(), deadline)
	defer cancel()

	running, err := s.store.TransitionExecution(ctx, exec.TenantID, exec.ID,
		[]store.ExecutionStatus{store.ExecutionQueued}, store.ExecutionRunning,
		func(e *store.Execution) { now := time.Now().UTC(); e.StartedAt = &now })
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, exec.ID)
		return
	}
	s.appendEvent(ctx, exec.ID, store.EventExecutionStarted, nil)

	finalStatus, runErr := s.executor.Run(ctx, running)
	if runErr != nil {
		finalStatus = store.ExecutionFailed
	}

	if s.tenantQuota != nil {
		defer s.tenantQuota.RecordEnd(exec.TenantID)
	}

	final, terr := s.store.TransitionExecution(ctx, exec.TenantID, exec.ID,
		[]store.ExecutionStatus{store.ExecutionRunning}, finalStatus,
		func(e *store.Execution) { now := time.Now().UTC(); e.EndedAt = &now })
	if terr != nil {
		status, class, msg := classifyError(terr)
		writeJSONError(w, status, class, msg, exec.ID)
		return
	}
	s.appendEvent(ctx, exec.ID, store.EventExecutionFinished, map[string]any{"status": finalStatus})

	steps, _ := s.store.ListSteps(ctx, exec.ID)
	result, _ := json.Marshal(steps)
	httpStatus := http.StatusOK
	if finalStatus != store.ExecutionSucceeded {
		httpStatus = http.StatusUnprocessableEntity
	}
	writeJSON(w, httpStatus, executeResponse{ExecutionID: final.ID, Status: string(final.Status), Result: result})
}

// writeIdempotencyHit serves a cache hit on a prior execution sharing the
// same (tenant, idempotency_key): the second call never re-invokes asset
// adapters, it just replays the prior execution's current status and, once
// it has reached a terminal success, its result (spec §8 scenario 1).
func (s *Server) writeIdempotencyHit(w http.ResponseWriter, r *http.Request, prior *store.Execution) {
	var result json.RawMessage
	if prior.Status == store.ExecutionSucceeded {
		steps, err := s.store.ListSteps(r.Context(), prior.ID)
		if err == nil {
			result, _ = json.Marshal(steps)
		}
	}
	writeJSON(w, http.StatusOK, executeResponse{ExecutionID: prior.ID, Status: string(prior.Status), Result: result})
}

// appendEvent records ev in the durable event log and fans it out to any
// live stream subscribers. Logged and swallowed on failure: the event trail
// is best-effort observability, never a gate on the execution itself.
func (s *Server) appendEvent(ctx context.Context, executionID string, kind store.EventKind, detail any) {
	ev, err := s.store.AppendEvent(ctx, executionID, kind, detail)
	if err != nil {
		s.log.Warn("append event failed", zap.String("execution_id", executionID), zap.Error(err))
		return
	}
	if s.events != nil {
		s.events.PublishFromStore(ctx, ev)
	}
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ac, err := actorFromRequest(r)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	id := chi.URLParam(r, "id")
	exec, err := s.store.GetExecution(r.Context(), ac.TenantID, id)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}
	steps, err := s.store.ListSteps(r.Context(), id)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}
	events, err := s.store.ListEvents(r.Context(), id, "")
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution": exec, "steps": steps, "events": events})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ac, err := actorFromRequest(r)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	statusFilter := store.ExecutionStatus(r.URL.Query().Get("status"))
	execs, err := s.store.ListExecutions(r.Context(), ac.TenantID, statusFilter, 100)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	ac, err := actorFromRequest(r)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetExecution(r.Context(), ac.TenantID, id); err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}
	steps, err := s.store.ListSteps(r.Context(), id)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}
	writeJSON(w, http.StatusOK, observability.ComputeProgress(id, steps))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// handleCancel is idempotent: cancelling an already-terminal execution
// succeeds without error (spec §6.2).
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ac, err := actorFromRequest(r)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	id := chi.URLParam(r, "id")
	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.cancellation.RequestCancellation(r.Context(), id); err != nil {
		s.log.Warn("request cancellation: redis unavailable, relying on store transition", zap.Error(err))
	}

	exec, err := s.store.GetExecution(r.Context(), ac.TenantID, id)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}
	switch exec.Status {
	case store.ExecutionSucceeded, store.ExecutionFailed, store.ExecutionCancelled, store.ExecutionTimedOut, store.ExecutionRejected:
		writeJSON(w, http.StatusOK, map[string]string{"execution_id": id, "status": string(exec.Status)})
		return
	}
	updated, err := s.store.TransitionExecution(r.Context(), ac.TenantID, id,
		[]store.ExecutionStatus{store.ExecutionPendingApproval, store.ExecutionQueued, store.ExecutionRunning},
		store.ExecutionCancelled,
		func(e *store.Execution) {
			now := time.Now().UTC()
			e.EndedAt = &now
			e.CancelReason = req.Reason
		})
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"execution_id": updated.ID, "status": string(updated.Status)})
}

type decideRequest struct {
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, false)
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	ac, err := actorFromRequest(r)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	id := chi.URLParam(r, "id")
	var req decideRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	approval, err := s.store.PendingApprovalFor(r.Context(), id)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}

	_, approvalSpan := telemetry.StartApprovalSpan(r.Context(), id, "")
	decision := "rejected"
	if approve {
		decision = "approved"
	}
	defer telemetry.EndApprovalSpan(approvalSpan, decision, req.DecidedBy)

	if _, err := s.store.DecideApproval(r.Context(), approval.ID, approve, req.DecidedBy, req.Reason); err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}

	nextStatus := store.ExecutionQueued
	if !approve {
		nextStatus = store.ExecutionRejected
	}
	updated, err := s.store.TransitionExecution(r.Context(), ac.TenantID, id,
		[]store.ExecutionStatus{store.ExecutionPendingApproval}, nextStatus, nil)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}

	if approve {
		maxAttempts := store.DefaultMaxAttempts(updated.SLAClass)
		if _, err := s.store.Enqueue(r.Context(), updated.ID, ac.TenantID, updated.SLAClass, maxAttempts); err != nil {
			status, class, msg := classifyError(err)
			writeJSONError(w, status, class, msg, id)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"execution_id": updated.ID, "status": string(updated.Status)})
}
