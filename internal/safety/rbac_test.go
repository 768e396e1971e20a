package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/marcus-qen/stagee/internal/adapters/rbacdirectory"
)

type fakeDirectory struct {
	users map[string]*rbacdirectory.User
	grant map[string]bool
	err   error
}

func (f *fakeDirectory) GetUser(ctx context.Context, actorID string) (*rbacdirectory.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[actorID]
	if !ok {
		return nil, errors.New("no such actor")
	}
	return u, nil
}

func (f *fakeDirectory) CheckPermission(ctx context.Context, actorID string, perm rbacdirectory.Permission) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.grant[actorID], nil
}

func TestRBACGuardAuthorizeTenantMismatchFirst(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]*rbacdirectory.User{"a1": {ID: "a1", TenantID: "tenant-other", Role: rbacdirectory.RoleAdmin}},
		grant: map[string]bool{"a1": true},
	}
	guard := NewRBACGuard(dir)

	err := guard.Authorize(context.Background(), "a1", "tenant-1", rbacdirectory.PermCommandExec)
	if err == nil {
		t.Fatal("expected an error for mismatched tenant")
	}
	var mismatch *ErrTenantMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ErrTenantMismatch, got %T: %v", err, err)
	}
	if mismatch.ActorTenantID != "tenant-other" || mismatch.ExecutionTenantID != "tenant-1" {
		t.Errorf("unexpected mismatch detail: %+v", mismatch)
	}
}

func TestRBACGuardAuthorizePermissionDenied(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]*rbacdirectory.User{"a1": {ID: "a1", TenantID: "tenant-1", Role: rbacdirectory.RoleViewer}},
		grant: map[string]bool{"a1": false},
	}
	guard := NewRBACGuard(dir)

	err := guard.Authorize(context.Background(), "a1", "tenant-1", rbacdirectory.PermCommandExec)
	if err == nil {
		t.Fatal("expected a permission error")
	}
	var denied *ErrPermissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrPermissionDenied, got %T: %v", err, err)
	}
}

func TestRBACGuardAuthorizeGranted(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]*rbacdirectory.User{"a1": {ID: "a1", TenantID: "tenant-1", Role: rbacdirectory.RoleOperator}},
		grant: map[string]bool{"a1": true},
	}
	guard := NewRBACGuard(dir)

	if err := guard.Authorize(context.Background(), "a1", "tenant-1", rbacdirectory.PermCommandExec); err != nil {
		t.Fatalf("expected authorization to succeed, got %v", err)
	}
}

func TestRBACGuardAuthorizeDirectoryUnavailableFailsClosed(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("directory down")}
	guard := NewRBACGuard(dir)

	err := guard.Authorize(context.Background(), "a1", "tenant-1", rbacdirectory.PermCommandExec)
	var denied *ErrPermissionDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected a fail-closed ErrPermissionDenied, got %T: %v", err, err)
	}
}
