// Package rbacdirectory is a thin client for the external RBAC directory
// consumed by the Safety Kernel's revalidation guard (spec: get_user,
// check_permission, role lookups). The directory is abstract — actor/tenant
// management is out of scope here, this package only resolves permissions.
package rbacdirectory

import (
	"context"
	"fmt"
	"net/http"
)

// Permission is a capability an actor may or may not hold.
type Permission string

const (
	PermFleetRead     Permission = "fleet:read"
	PermFleetWrite    Permission = "fleet:write"
	PermCommandExec   Permission = "command:exec"
	PermApprovalRead  Permission = "approval:read"
	PermApprovalWrite Permission = "approval:write"
	PermAdmin         Permission = "admin"
)

// Role is a named bundle of permissions.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// RolePermissions returns the permissions granted to a role. Unknown roles
// grant nothing — the RBAC guard must fail closed.
func RolePermissions(role Role) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermAdmin}
	case RoleOperator:
		return []Permission{PermFleetRead, PermFleetWrite, PermCommandExec, PermApprovalRead, PermApprovalWrite}
	case RoleViewer:
		return []Permission{PermFleetRead, PermApprovalRead}
	default:
		return nil
	}
}

// User is the actor identity returned by the directory.
type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
}

// Directory resolves actor identity and permission checks against the
// external RBAC service. Implementations must treat a network failure as
// "cannot confirm permission", never as an implicit grant.
type Directory interface {
	GetUser(ctx context.Context, actorID string) (*User, error)
	CheckPermission(ctx context.Context, actorID string, perm Permission) (bool, error)
}

// HTTPDirectory calls a remote RBAC directory service over HTTP/JSON.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory creates a directory client against baseURL.
func NewHTTPDirectory(baseURL string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDirectory{baseURL: baseURL, client: client}
}

// GetUser fetches the actor's identity and role.
func (d *HTTPDirectory) GetUser(ctx context.Context, actorID string) (*User, error) {
	var out User
	if err := getJSON(ctx, d.client, fmt.Sprintf("%s/users/%s", d.baseURL, actorID), &out); err != nil {
		return nil, fmt.Errorf("rbacdirectory: get user: %w", err)
	}
	return &out, nil
}

// CheckPermission looks actorID up in the directory and decides from the
// role→permission table for that user's role (a role holding the admin
// permission is granted every permission); a directory that is unreachable
// returns an error, never "allowed".
func (d *HTTPDirectory) CheckPermission(ctx context.Context, actorID string, perm Permission) (bool, error) {
	user, err := d.GetUser(ctx, actorID)
	if err != nil {
		return false, err
	}
	for _, p := range RolePermissions(user.Role) {
		if p == PermAdmin || p == perm {
			return true, nil
		}
	}
	return false, nil
}
