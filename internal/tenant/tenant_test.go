/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tenant

import "testing"

func TestEnforcer_NoQuota(t *testing.T) {
	e := NewEnforcer()
	if err := e.CheckCanStart("unknown"); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

func TestEnforcer_MaxConcurrentExecutions(t *testing.T) {
	e := NewEnforcer()
	e.SetQuota("data", Quota{MaxConcurrentExecutions: 2})

	e.RecordStart("data")
	e.RecordStart("data")

	if err := e.CheckCanStart("data"); err == nil {
		t.Error("expected error at max concurrent executions")
	}

	e.RecordEnd("data")
	if err := e.CheckCanStart("data"); err != nil {
		t.Errorf("expected allowed after execution end, got: %v", err)
	}
}

func TestEnforcer_MaxExecutionsPerDay(t *testing.T) {
	e := NewEnforcer()
	e.SetQuota("testing", Quota{MaxExecutionsPerDay: 5})

	for i := 0; i < 5; i++ {
		e.RecordStart("testing")
		e.RecordEnd("testing")
	}

	if err := e.CheckCanStart("testing"); err == nil {
		t.Error("expected error at max executions per day")
	}

	e.ResetDaily()
	if err := e.CheckCanStart("testing"); err != nil {
		t.Errorf("expected allowed after daily reset, got: %v", err)
	}
}

func TestEnforcer_TenantIsolation(t *testing.T) {
	e := NewEnforcer()
	e.SetQuota("tenant-a", Quota{MaxConcurrentExecutions: 1})
	e.SetQuota("tenant-b", Quota{MaxConcurrentExecutions: 1})

	e.RecordStart("tenant-a")

	if err := e.CheckCanStart("tenant-a"); err == nil {
		t.Error("tenant-a should be at quota")
	}
	if err := e.CheckCanStart("tenant-b"); err != nil {
		t.Errorf("tenant-b should be allowed: %v", err)
	}
}

func TestEnforcer_Snapshot(t *testing.T) {
	e := NewEnforcer()
	e.SetQuota("platform", Quota{MaxConcurrentExecutions: 10})
	e.RecordStart("platform")
	e.RecordStart("platform")
	e.RecordEnd("platform")

	quota, usage := e.Snapshot("platform")
	if quota.MaxConcurrentExecutions != 10 {
		t.Errorf("quota = %d, want 10", quota.MaxConcurrentExecutions)
	}
	if usage.ConcurrentExecutions != 1 {
		t.Errorf("concurrent = %d, want 1", usage.ConcurrentExecutions)
	}
	if usage.ExecutionsToday != 2 {
		t.Errorf("today = %d, want 2", usage.ExecutionsToday)
	}
}
