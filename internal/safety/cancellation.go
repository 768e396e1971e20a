package safety

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcus-qen/stagee/internal/store"
)

// CancellationChecker answers "has this execution been asked to cancel?" on
// the hot path between every step, so it must be cheap: Redis is checked
// first (sub-millisecond, best-effort), falling back to the Store's
// authoritative execution status only when no Redis client is configured or
// Redis returns an error other than a missing key. A missing key is read as
// "not cancelled" without consulting the Store.
type CancellationChecker struct {
	redis *redis.Client
	store *store.Store
	ttl   time.Duration
}

// NewCancellationChecker builds a CancellationChecker. rdb may be nil, in
// which case every check falls through to the Store.
func NewCancellationChecker(rdb *redis.Client, st *store.Store, ttl time.Duration) *CancellationChecker {
	return &CancellationChecker{redis: rdb, store: st, ttl: ttl}
}

func cancelKey(executionID string) string {
	return "stagee:cancel:" + executionID
}

// RequestCancellation marks executionID for cooperative cancellation. The
// Redis flag is set first for fast propagation to in-flight workers; the
// Store transition is the durable record and must still be applied by the
// caller.
func (c *CancellationChecker) RequestCancellation(ctx context.Context, executionID string) error {
	if c.redis != nil {
		if err := c.redis.Set(ctx, cancelKey(executionID), "1", c.ttl).Err(); err != nil {
			// Redis is best-effort; the Store transition below remains authoritative.
			_ = err
		}
	}
	return nil
}

// IsCancelled reports whether executionID has an outstanding cancellation
// request, checking Redis first and falling back to the Store when Redis is
// not configured or errors (a missing key returns false).
func (c *CancellationChecker) IsCancelled(ctx context.Context, tenantID, executionID string) (bool, error) {
	if c.redis != nil {
		v, err := c.redis.Get(ctx, cancelKey(executionID)).Result()
		if err == nil {
			return v == "1", nil
		}
		if err != redis.Nil {
			// Redis reachable-but-erroring: fall through to the Store rather
			// than risk ignoring a real cancellation request.
			_ = err
		} else {
			return false, nil
		}
	}
	exec, err := c.store.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return false, err
	}
	return exec.Status == store.ExecutionCancelled, nil
}
