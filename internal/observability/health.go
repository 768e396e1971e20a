package observability

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcus-qen/stagee/internal/store"
)

// ComponentStatus is the health of one dependency.
type ComponentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Health is the aggregate component-level health report of spec §4.6.
type Health struct {
	Healthy      bool              `json:"healthy"`
	Components   []ComponentStatus `json:"components"`
	SLAViolations []SLAViolation   `json:"sla_violations,omitempty"`
}

// SLAViolation names a running execution past its execution budget.
type SLAViolation struct {
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id"`
	SLAClass    string    `json:"sla_class"`
	StartedAt   time.Time `json:"started_at"`
}

// Checker evaluates component health and SLA-violation state on demand; it
// holds no background goroutine of its own, matching the Store's
// on-demand-Ping shape rather than a polling daemon.
type Checker struct {
	store *store.Store
	redis *redis.Client
}

// NewChecker builds a Checker over the given Store and optional Redis client.
func NewChecker(st *store.Store, rdb *redis.Client) *Checker {
	return &Checker{store: st, redis: rdb}
}

// Check returns the current aggregate health, including any executions that
// have run longer than their SLA class's execution budget across all
// tenants known to have active work.
func (c *Checker) Check(ctx context.Context, tenantIDs []string) Health {
	h := Health{Healthy: true}

	storeStatus := ComponentStatus{Name: "store", Healthy: true}
	if err := c.store.Ping(ctx); err != nil {
		storeStatus.Healthy = false
		storeStatus.Detail = "store unreachable"
		h.Healthy = false
	}
	h.Components = append(h.Components, storeStatus)

	redisStatus := ComponentStatus{Name: "cancellation_cache", Healthy: true}
	if c.redis == nil {
		redisStatus.Detail = "not configured, falling back to store"
	} else if err := c.redis.Ping(ctx).Err(); err != nil {
		redisStatus.Healthy = false
		redisStatus.Detail = "redis unreachable, cancellation checks fall back to store"
	}
	h.Components = append(h.Components, redisStatus)

	for _, tenantID := range tenantIDs {
		running, err := c.store.ListExecutions(ctx, tenantID, store.ExecutionRunning, 500)
		if err != nil {
			continue
		}
		for _, exec := range running {
			if exec.StartedAt == nil {
				continue
			}
			policy, err := c.store.GetTimeoutPolicy(ctx, exec.SLAClass)
			if err != nil {
				continue
			}
			if time.Since(*exec.StartedAt) > policy.ExecutionBudget {
				h.SLAViolations = append(h.SLAViolations, SLAViolation{
					ExecutionID: exec.ID,
					TenantID:    exec.TenantID,
					SLAClass:    string(exec.SLAClass),
					StartedAt:   *exec.StartedAt,
				})
			}
		}
	}

	return h
}
