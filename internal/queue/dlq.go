package queue

import (
	"context"
	"fmt"

	"github.com/marcus-qen/stagee/internal/store"
)

// DLQAdmin exposes the admin-facing dead-letter operations named in spec
// §4.5: list with filters, requeue, and archive. It is a thin layer over the
// Store; the router package wraps this in HTTP handlers.
type DLQAdmin struct {
	store *store.Store
}

// NewDLQAdmin builds a DLQAdmin bound to the given Store.
func NewDLQAdmin(st *store.Store) *DLQAdmin {
	return &DLQAdmin{store: st}
}

// List returns dead-lettered items, optionally filtered to a single tenant.
// The Store has no tenant index on dlq_items yet, so the filter is applied
// in-process over the bounded result page.
func (d *DLQAdmin) List(ctx context.Context, tenantID string, limit int) ([]store.DLQItem, error) {
	items, err := d.store.ListDLQ(ctx, limit)
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		return items, nil
	}
	filtered := make([]store.DLQItem, 0, len(items))
	for _, item := range items {
		if item.TenantID == tenantID {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// Requeue resets a dead-lettered item's attempt counter and places a fresh
// queue item for its execution, using the SLA class's configured max
// attempts rather than whatever attempt count exhausted it the first time.
func (d *DLQAdmin) Requeue(ctx context.Context, dlqID string) (*store.QueueItem, error) {
	items, err := d.store.ListDLQ(ctx, 500)
	if err != nil {
		return nil, err
	}
	var slaClass store.SLAClass
	found := false
	for _, item := range items {
		if item.ID == dlqID {
			slaClass = item.SLAClass
			found = true
			break
		}
	}
	if !found {
		return nil, store.ErrNotFound
	}
	policy, err := d.store.GetTimeoutPolicy(ctx, slaClass)
	if err != nil {
		return nil, fmt.Errorf("requeue: load timeout policy: %w", err)
	}
	return d.store.RequeueDLQItem(ctx, dlqID, policy.MaxAttempts)
}

// Archive permanently discards a dead-lettered item without requeuing it.
// Spec §4.5 calls this out as distinct from requeue: an operator decision
// that the execution should never run again.
func (d *DLQAdmin) Archive(ctx context.Context, dlqID string) error {
	return d.store.DeleteDLQItem(ctx, dlqID)
}
