package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateExecution inserts a new execution in pending_approval or queued
// status. Returns ErrDuplicateIdempotencyKey if tenantID+idempotencyKey was
// already used within dedupWindow.
func (s *Store) CreateExecution(ctx context.Context, exec Execution, dedupWindow time.Duration) (*Execution, error) {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	now := nowUTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// A prior execution in {failed, cancelled} never blocks reuse of the same
	// idempotency key: only a still-live or successfully-completed prior
	// execution counts as a duplicate (spec §4.2.1).
	cutoff := now.Add(-dedupWindow)
	var existingID string
	err = tx.QueryRow(ctx, `SELECT id FROM executions
		WHERE tenant_id = $1 AND idempotency_key = $2 AND created_at >= $3
		AND status NOT IN ('failed', 'cancelled')
		LIMIT 1`, exec.TenantID, exec.IdempotencyKey, cutoff).Scan(&existingID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: existing execution %s", ErrDuplicateIdempotencyKey, existingID)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%w: dedup lookup: %v", ErrUnavailable, err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO executions
		(id, tenant_id, actor_id, idempotency_key, sla_class, action_class, status, plan_snapshot, cancel_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		exec.ID, exec.TenantID, exec.ActorID, exec.IdempotencyKey, exec.SLAClass, exec.ActionClass,
		exec.Status, exec.PlanSnapshot, exec.CancelReason, exec.CreatedAt, exec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: insert execution: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	out := exec
	return &out, nil
}

// GetExecution returns an execution scoped to tenantID. A mismatched tenant
// is treated identically to a missing row — callers must never learn that a
// row exists for another tenant.
func (s *Store) GetExecution(ctx context.Context, tenantID, id string) (*Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, tenant_id, actor_id, idempotency_key, sla_class, action_class,
		status, plan_snapshot, cancel_reason, created_at, updated_at, started_at, ended_at
		FROM executions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanExecution(row)
}

// GetByIdempotencyKey returns the most recent execution for tenantID+key
// created within dedupWindow, regardless of status (spec §4.1, "used by
// Router"). Returns ErrNotFound if no execution matches — the Router is
// responsible for deciding whether a match it does find counts as a cache
// hit or may be superseded by a fresh execution under the same key.
func (s *Store) GetByIdempotencyKey(ctx context.Context, tenantID, key string, dedupWindow time.Duration) (*Execution, error) {
	cutoff := nowUTC().Add(-dedupWindow)
	row := s.pool.QueryRow(ctx, `SELECT id, tenant_id, actor_id, idempotency_key, sla_class, action_class,
		status, plan_snapshot, cancel_reason, created_at, updated_at, started_at, ended_at
		FROM executions
		WHERE tenant_id = $1 AND idempotency_key = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`, tenantID, key, cutoff)
	return scanExecution(row)
}

// ListExecutions returns executions for a tenant, optionally filtered by status.
func (s *Store) ListExecutions(ctx context.Context, tenantID string, status ExecutionStatus, limit int) ([]Execution, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("store: tenant_id is required for ListExecutions")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id, tenant_id, actor_id, idempotency_key, sla_class, action_class,
		status, plan_snapshot, cancel_reason, created_at, updated_at, started_at, ended_at
		FROM executions WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list executions: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]Execution, 0, limit)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

// TransitionExecution moves an execution from one of fromStatuses to
// toStatus, rejecting the move with ErrIllegalTransition if the execution is
// not currently in one of fromStatuses, or if from->to is not a legal FSM
// edge. Grounded on the same enforce-then-move-in-one-UPDATE shape the
// teacher uses for job run transitions.
func (s *Store) TransitionExecution(ctx context.Context, tenantID, id string, fromStatuses []ExecutionStatus, toStatus ExecutionStatus, mutate func(*Execution)) (*Execution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT id, tenant_id, actor_id, idempotency_key, sla_class, action_class,
		status, plan_snapshot, cancel_reason, created_at, updated_at, started_at, ended_at
		FROM executions WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, id, tenantID)
	exec, err := scanExecution(row)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, candidate := range fromStatuses {
		if exec.Status == candidate {
			allowed = true
			break
		}
	}
	if !allowed || !CanTransition(exec.Status, toStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, exec.Status, toStatus)
	}

	exec.Status = toStatus
	exec.UpdatedAt = nowUTC()
	if mutate != nil {
		mutate(exec)
	}

	_, err = tx.Exec(ctx, `UPDATE executions SET status=$1, updated_at=$2, cancel_reason=$3, started_at=$4, ended_at=$5
		WHERE id = $6`, exec.Status, exec.UpdatedAt, exec.CancelReason, exec.StartedAt, exec.EndedAt, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: update execution: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return exec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	var plan []byte
	if err := row.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.IdempotencyKey, &e.SLAClass, &e.ActionClass,
		&e.Status, &plan, &e.CancelReason, &e.CreatedAt, &e.UpdatedAt, &e.StartedAt, &e.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan execution: %v", ErrUnavailable, err)
	}
	e.PlanSnapshot = json.RawMessage(plan)
	return &e, nil
}
