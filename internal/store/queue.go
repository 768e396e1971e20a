package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Enqueue places an execution's first dispatch on the work queue.
func (s *Store) Enqueue(ctx context.Context, executionID, tenantID string, slaClass SLAClass, maxAttempts int) (*QueueItem, error) {
	item := QueueItem{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		TenantID:    tenantID,
		SLAClass:    slaClass,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		AvailableAt: nowUTC(),
		CreatedAt:   nowUTC(),
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO queue_items
		(id, execution_id, tenant_id, sla_class, attempt, max_attempts, available_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		item.ID, item.ExecutionID, item.TenantID, item.SLAClass, item.Attempt, item.MaxAttempts, item.AvailableAt, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: enqueue: %v", ErrUnavailable, err)
	}
	return &item, nil
}

// Dequeue leases the oldest ready, unleased queue item to owner for
// leaseDuration, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// workers never contend on the same row. Returns ErrNotFound if nothing is
// ready.
func (s *Store) Dequeue(ctx context.Context, owner string, leaseDuration time.Duration) (*QueueItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := nowUTC()
	row := tx.QueryRow(ctx, `SELECT id, execution_id, tenant_id, sla_class, attempt, max_attempts, available_at,
		lease_owner, lease_expires, created_at
		FROM queue_items
		WHERE (lease_owner = '' OR lease_expires < $1) AND available_at <= $1
		ORDER BY available_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, now)
	item, err := scanQueueItem(row)
	if err != nil {
		return nil, err
	}

	expires := now.Add(leaseDuration)
	_, err = tx.Exec(ctx, `UPDATE queue_items SET lease_owner=$1, lease_expires=$2 WHERE id=$3`,
		owner, expires, item.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: lease queue item: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	item.LeaseOwner = owner
	item.LeaseExpires = &expires
	return item, nil
}

// RenewLease extends a held lease; callers renew periodically while a step
// is still in flight.
func (s *Store) RenewLease(ctx context.Context, itemID, owner string, leaseDuration time.Duration) error {
	expires := nowUTC().Add(leaseDuration)
	tag, err := s.pool.Exec(ctx, `UPDATE queue_items SET lease_expires=$1
		WHERE id=$2 AND lease_owner=$3`, expires, itemID, owner)
	if err != nil {
		return fmt.Errorf("%w: renew lease: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteQueueItem removes a queue item after its execution finishes.
func (s *Store) CompleteQueueItem(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_items WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("%w: delete queue item: %v", ErrUnavailable, err)
	}
	return nil
}

// RetryQueueItem reschedules a failed item for a later attempt, releasing
// its lease. Returns false if the item has exhausted max_attempts (caller
// should route it to the DLQ instead).
func (s *Store) RetryQueueItem(ctx context.Context, itemID string, nextAttempt int, delay time.Duration) (bool, error) {
	var maxAttempts int
	if err := s.pool.QueryRow(ctx, `SELECT max_attempts FROM queue_items WHERE id=$1`, itemID).Scan(&maxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if nextAttempt >= maxAttempts {
		return false, nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE queue_items SET attempt=$1, available_at=$2, lease_owner='', lease_expires=NULL
		WHERE id=$3`, nextAttempt, nowUTC().Add(delay), itemID)
	if err != nil {
		return false, fmt.Errorf("%w: retry queue item: %v", ErrUnavailable, err)
	}
	return true, nil
}

// MoveToDLQ deletes a queue item and records it in the dead-letter queue.
func (s *Store) MoveToDLQ(ctx context.Context, item QueueItem, lastErr string) (*DLQItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d := DLQItem{
		ID:          uuid.NewString(),
		ExecutionID: item.ExecutionID,
		TenantID:    item.TenantID,
		SLAClass:    item.SLAClass,
		Attempts:    item.Attempt + 1,
		LastError:   lastErr,
		DeadAt:      nowUTC(),
	}
	if _, err := tx.Exec(ctx, `INSERT INTO dlq_items (id, execution_id, tenant_id, sla_class, attempts, last_error, dead_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, d.ID, d.ExecutionID, d.TenantID, d.SLAClass, d.Attempts, d.LastError, d.DeadAt); err != nil {
		return nil, fmt.Errorf("%w: insert dlq item: %v", ErrUnavailable, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_items WHERE id=$1`, item.ID); err != nil {
		return nil, fmt.Errorf("%w: delete queue item: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return &d, nil
}

// ListDLQ returns dead-lettered items newest first.
func (s *Store) ListDLQ(ctx context.Context, limit int) ([]DLQItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT id, execution_id, tenant_id, sla_class, attempts, last_error, dead_at
		FROM dlq_items ORDER BY dead_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list dlq: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]DLQItem, 0, limit)
	for rows.Next() {
		var d DLQItem
		if err := rows.Scan(&d.ID, &d.ExecutionID, &d.TenantID, &d.SLAClass, &d.Attempts, &d.LastError, &d.DeadAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RequeueDLQItem removes a DLQ entry and places a fresh queue item for its
// execution with a reset attempt counter.
func (s *Store) RequeueDLQItem(ctx context.Context, dlqID string, maxAttempts int) (*QueueItem, error) {
	var executionID, tenantID string
	var slaClass SLAClass
	if err := s.pool.QueryRow(ctx, `SELECT execution_id, tenant_id, sla_class FROM dlq_items WHERE id=$1`, dlqID).
		Scan(&executionID, &tenantID, &slaClass); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM dlq_items WHERE id=$1`, dlqID); err != nil {
		return nil, fmt.Errorf("%w: delete dlq item: %v", ErrUnavailable, err)
	}
	return s.Enqueue(ctx, executionID, tenantID, slaClass, maxAttempts)
}

// DeleteDLQItem permanently discards a dead-lettered item without requeuing.
func (s *Store) DeleteDLQItem(ctx context.Context, dlqID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dlq_items WHERE id=$1`, dlqID)
	if err != nil {
		return fmt.Errorf("%w: delete dlq item: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var q QueueItem
	var leaseOwner string
	if err := row.Scan(&q.ID, &q.ExecutionID, &q.TenantID, &q.SLAClass, &q.Attempt, &q.MaxAttempts, &q.AvailableAt,
		&leaseOwner, &q.LeaseExpires, &q.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan queue item: %v", ErrUnavailable, err)
	}
	q.LeaseOwner = leaseOwner
	return &q, nil
}
