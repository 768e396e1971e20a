package safety

import (
	"context"
	"fmt"

	"github.com/marcus-qen/stagee/internal/adapters/rbacdirectory"
)

// RBACGuard revalidates actor permissions against the directory. The Router
// calls it at admission, and a worker calls it again each time it leases a
// background queue item, so a grant revoked while the item waited is caught
// before dispatch. It is not called between the steps of a running
// execution.
type RBACGuard struct {
	directory rbacdirectory.Directory
}

// NewRBACGuard builds an RBACGuard over directory.
func NewRBACGuard(directory rbacdirectory.Directory) *RBACGuard {
	return &RBACGuard{directory: directory}
}

// ErrPermissionDenied is returned when the actor lacks the permission a step
// requires, or the directory could not be consulted (fail closed).
type ErrPermissionDenied struct {
	ActorID    string
	Permission rbacdirectory.Permission
	Reason     string
}

func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("actor %s denied permission %s: %s", e.ActorID, e.Permission, e.Reason)
}

// ErrTenantMismatch is returned when the actor's own tenant, as recorded by
// the RBAC directory, does not match the tenant of the execution the step
// belongs to. A subclass of permission denial kept distinct for SOC
// reporting: every occurrence is a sign of a forged or stale tenant header,
// not an ordinary permission gap.
type ErrTenantMismatch struct {
	ActorID           string
	ActorTenantID     string
	ExecutionTenantID string
}

func (e *ErrTenantMismatch) Error() string {
	return fmt.Sprintf("actor %s belongs to tenant %s, not execution tenant %s", e.ActorID, e.ActorTenantID, e.ExecutionTenantID)
}

// Authorize checks, in order, that actorID belongs to executionTenantID and
// holds permission. Tenant isolation is checked first: a mismatch is always
// reported as ErrTenantMismatch, never silently folded into a generic
// permission denial. Any directory error is surfaced as denial: an
// unreachable directory must never be treated as an implicit grant.
func (g *RBACGuard) Authorize(ctx context.Context, actorID, executionTenantID string, permission rbacdirectory.Permission) error {
	user, err := g.directory.GetUser(ctx, actorID)
	if err != nil {
		return &ErrPermissionDenied{ActorID: actorID, Permission: permission, Reason: "directory unavailable: " + err.Error()}
	}
	if user.TenantID != executionTenantID {
		return &ErrTenantMismatch{ActorID: actorID, ActorTenantID: user.TenantID, ExecutionTenantID: executionTenantID}
	}

	ok, err := g.directory.CheckPermission(ctx, actorID, permission)
	if err != nil {
		return &ErrPermissionDenied{ActorID: actorID, Permission: permission, Reason: "directory unavailable: " + err.Error()}
	}
	if !ok {
		return &ErrPermissionDenied{ActorID: actorID, Permission: permission, Reason: "not granted"}
	}
	return nil
}
