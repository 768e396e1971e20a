package store

import "errors"

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrIllegalTransition is returned when an FSM transition is not permitted
// from the entity's current state.
var ErrIllegalTransition = errors.New("store: illegal state transition")

// ErrDuplicateIdempotencyKey is returned when an execution is submitted with
// an idempotency key already in use within the dedup window for that tenant.
var ErrDuplicateIdempotencyKey = errors.New("store: duplicate idempotency key")

// ErrLockHeld is returned when a per-asset lock cannot be acquired because
// another execution currently holds it.
var ErrLockHeld = errors.New("store: lock held")

// ErrUnavailable wraps a failure to reach the underlying database.
var ErrUnavailable = errors.New("store: unavailable")
