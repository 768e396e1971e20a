package safety

import "testing"

func TestLockKeyComposesTenantTargetAction(t *testing.T) {
	got := lockKey("tenant-1", "server-01", "restart_service")
	want := "v1:tenant-1:server-01:restart_service"
	if got != want {
		t.Errorf("lockKey() = %q, want %q", got, want)
	}
}

func TestLockKeyIsolatesTenantsOnSameTarget(t *testing.T) {
	a := lockKey("tenant-1", "server-01", "restart_service")
	b := lockKey("tenant-2", "server-01", "restart_service")
	if a == b {
		t.Errorf("two tenants naming the same target_ref produced the same lock key: %q", a)
	}
}
