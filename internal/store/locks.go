package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AcquireLock takes the mutex for lockKey for the duration of a step. lockKey
// is the caller-composed versioned string v1:{tenant}:{target_ref}:{action}
// (spec §3/§4.2.2) — the Store treats it as an opaque unique string and does
// no composition of its own. Returns ErrLockHeld if another execution
// currently holds a non-expired lock on the same key. This is the
// cross-worker source of truth for the Safety Kernel's per-asset mutex
// guard — in-process maps are never authoritative.
func (s *Store) AcquireLock(ctx context.Context, lockKey, executionID, stepID string, ttl time.Duration) error {
	now := nowUTC()
	expires := now.Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO locks (lock_key, execution_id, step_id, acquired_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (lock_key) DO UPDATE
		SET execution_id=EXCLUDED.execution_id, step_id=EXCLUDED.step_id,
		    acquired_at=EXCLUDED.acquired_at, expires_at=EXCLUDED.expires_at
		WHERE locks.expires_at < $4`,
		lockKey, executionID, stepID, now, expires)
	if err != nil {
		return fmt.Errorf("%w: acquire lock: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockHeld
	}
	return nil
}

// ReleaseLock drops the lock if it is still held by executionID/stepID. A
// lock held by a different execution (already reassigned after expiry) is
// left untouched.
func (s *Store) ReleaseLock(ctx context.Context, lockKey, executionID, stepID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM locks WHERE lock_key=$1 AND execution_id=$2 AND step_id=$3`,
		lockKey, executionID, stepID)
	if err != nil {
		return fmt.Errorf("%w: release lock: %v", ErrUnavailable, err)
	}
	return nil
}

// GetLock returns the current lock holder for lockKey, if any.
func (s *Store) GetLock(ctx context.Context, lockKey string) (*Lock, error) {
	row := s.pool.QueryRow(ctx, `SELECT lock_key, execution_id, step_id, acquired_at, expires_at
		FROM locks WHERE lock_key=$1`, lockKey)
	var l Lock
	if err := row.Scan(&l.LockKey, &l.ExecutionID, &l.StepID, &l.AcquiredAt, &l.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get lock: %v", ErrUnavailable, err)
	}
	return &l, nil
}
