package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want 8", cfg.WorkerCount)
	}
	if cfg.MaxAttempts["fast"] != 2 {
		t.Errorf("MaxAttempts[fast] = %d, want 2", cfg.MaxAttempts["fast"])
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != Default().ListenAddr {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
}

func TestLoad_OverlaysFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stagee.yaml")
	yamlContent := `
listen_addr: ":9090"
worker_count: 16
tenant_quotas:
  acme:
    max_concurrent_executions: 5
    max_executions_per_day: 100
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.WorkerCount != 16 {
		t.Errorf("WorkerCount = %d, want 16", cfg.WorkerCount)
	}
	quota, ok := cfg.TenantQuotas["acme"]
	if !ok {
		t.Fatal("expected acme tenant quota to be present")
	}
	if quota.MaxConcurrentExecutions != 5 || quota.MaxExecutionsPerDay != 100 {
		t.Errorf("quota = %+v, want {5 100}", quota)
	}
}

func TestLoad_EnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagee.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9090\"\nworker_count: 16\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("STAGEE_LISTEN_ADDR", ":7777")
	t.Setenv("STAGEE_WORKER_COUNT", "3")
	t.Setenv("STAGEE_LEASE_MS", "500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q, want :7777", cfg.ListenAddr)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("WorkerCount = %d, want 3", cfg.WorkerCount)
	}
	if cfg.LeaseDuration != 500*time.Millisecond {
		t.Errorf("LeaseDuration = %v, want 500ms", cfg.LeaseDuration)
	}
}

func TestMaxAttemptsFor(t *testing.T) {
	cfg := Default()
	if got := cfg.MaxAttemptsFor("fast", 9); got != 2 {
		t.Errorf("MaxAttemptsFor(fast) = %d, want 2", got)
	}
	if got := cfg.MaxAttemptsFor("unknown", 9); got != 9 {
		t.Errorf("MaxAttemptsFor(unknown) = %d, want fallback 9", got)
	}
}
