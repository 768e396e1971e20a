package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RequestApproval opens a pending approval gate for an execution.
func (s *Store) RequestApproval(ctx context.Context, executionID string, expiresAt *time.Time) (*Approval, error) {
	a := Approval{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Status:      ApprovalPending,
		RequestedAt: nowUTC(),
		ExpiresAt:   expiresAt,
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO approvals (id, execution_id, status, requested_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)`, a.ID, a.ExecutionID, a.Status, a.RequestedAt, a.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: insert approval: %v", ErrUnavailable, err)
	}
	return &a, nil
}

// DecideApproval records an approve/reject decision, failing with
// ErrIllegalTransition if the approval is no longer pending.
func (s *Store) DecideApproval(ctx context.Context, approvalID string, approve bool, decidedBy, reason string) (*Approval, error) {
	status := ApprovalRejected
	if approve {
		status = ApprovalApproved
	}
	now := nowUTC()
	tag, err := s.pool.Exec(ctx, `UPDATE approvals SET status=$1, decided_at=$2, decided_by=$3, reason=$4
		WHERE id = $5 AND status = $6`, status, now, decidedBy, reason, approvalID, ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("%w: decide approval: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrIllegalTransition
	}
	return s.GetApproval(ctx, approvalID)
}

// GetApproval returns an approval by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*Approval, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, execution_id, status, requested_at, decided_at, decided_by, reason, expires_at
		FROM approvals WHERE id = $1`, id)
	return scanApproval(row)
}

// PendingApprovalFor returns the open approval gate for an execution, if any.
func (s *Store) PendingApprovalFor(ctx context.Context, executionID string) (*Approval, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, execution_id, status, requested_at, decided_at, decided_by, reason, expires_at
		FROM approvals WHERE execution_id = $1 AND status = $2 ORDER BY requested_at DESC LIMIT 1`,
		executionID, ApprovalPending)
	return scanApproval(row)
}

// ExpirePendingApprovals transitions stale pending approvals to expired and
// returns their execution IDs so callers can cancel the associated executions.
func (s *Store) ExpirePendingApprovals(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `UPDATE approvals SET status=$1
		WHERE status=$2 AND expires_at IS NOT NULL AND expires_at < $3
		RETURNING execution_id`, ApprovalExpired, ApprovalPending, nowUTC())
	if err != nil {
		return nil, fmt.Errorf("%w: expire approvals: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanApproval(row rowScanner) (*Approval, error) {
	var a Approval
	if err := row.Scan(&a.ID, &a.ExecutionID, &a.Status, &a.RequestedAt, &a.DecidedAt, &a.DecidedBy, &a.Reason, &a.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan approval: %v", ErrUnavailable, err)
	}
	return &a, nil
}
