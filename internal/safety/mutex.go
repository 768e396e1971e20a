package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus-qen/stagee/internal/store"
)

// AssetMutex enforces the one-active-operation-per-asset invariant (spec
// §5), backed entirely by the Store's Postgres advisory-lock table. No
// in-process map is consulted: a worker that restarts or a second replica
// handling the same tenant must observe the same lock state, so the
// database row is the only authority, grounded on the claim/release-target
// pattern the teacher used to keep one run on one target at a time.
type AssetMutex struct {
	store *store.Store
}

// NewAssetMutex builds an AssetMutex over st.
func NewAssetMutex(st *store.Store) *AssetMutex {
	return &AssetMutex{store: st}
}

// lockKey composes the versioned mutex key v1:{tenant}:{target_ref}:{action}
// (spec §3/§4.2.2). Folding tenant and action into the key keeps two
// tenants naming the same target_ref, or two different actions on the same
// target, from contending on the same lock row.
func lockKey(tenantID, targetRef, action string) string {
	return fmt.Sprintf("v1:%s:%s:%s", tenantID, targetRef, action)
}

// Acquire takes the lock for tenantID/targetRef/action on behalf of
// executionID/stepID, valid until it is released or expires after ttl.
// Returns store.ErrLockHeld if another execution currently owns a
// non-expired lock.
func (m *AssetMutex) Acquire(ctx context.Context, tenantID, targetRef, action, executionID, stepID string, ttl time.Duration) error {
	return m.store.AcquireLock(ctx, lockKey(tenantID, targetRef, action), executionID, stepID, ttl)
}

// Release drops the lock for tenantID/targetRef/action if executionID/stepID
// is still its current holder.
func (m *AssetMutex) Release(ctx context.Context, tenantID, targetRef, action, executionID, stepID string) error {
	return m.store.ReleaseLock(ctx, lockKey(tenantID, targetRef, action), executionID, stepID)
}
