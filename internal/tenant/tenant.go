/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tenant enforces a per-tenant concurrency quota on top of the
// Safety Kernel's mandatory guards. Unlike the asset mutex (one execution
// per asset) this bounds how many executions a single tenant may run at
// once, regardless of which assets they target.
package tenant

import (
	"fmt"
	"sync"
)

// Quota bounds one tenant's concurrent and daily execution volume. A zero
// value field means unlimited.
type Quota struct {
	MaxConcurrentExecutions int
	MaxExecutionsPerDay     int
}

// Usage tracks a tenant's current consumption against its Quota.
type Usage struct {
	ConcurrentExecutions int
	ExecutionsToday      int
}

// Enforcer checks and tracks per-tenant execution quotas. Disabled by
// default: a tenant with no registered Quota has no limit, so the Enforcer
// can be wired in without requiring every tenant to be pre-registered.
type Enforcer struct {
	mu     sync.Mutex
	quotas map[string]Quota
	usage  map[string]*Usage
}

// NewEnforcer creates an empty quota enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		quotas: make(map[string]Quota),
		usage:  make(map[string]*Usage),
	}
}

// SetQuota registers or replaces the quota for a tenant.
func (e *Enforcer) SetQuota(tenantID string, q Quota) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotas[tenantID] = q
}

// CheckCanStart returns an error if tenantID has no remaining quota to
// start another execution. Tenants with no registered quota are unlimited.
func (e *Enforcer) CheckCanStart(tenantID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.quotas[tenantID]
	if !ok {
		return nil
	}
	u := e.usage[tenantID]
	if u == nil {
		return nil
	}
	if q.MaxConcurrentExecutions > 0 && u.ConcurrentExecutions >= q.MaxConcurrentExecutions {
		return fmt.Errorf("tenant %q exceeded concurrent execution quota (%d/%d)", tenantID, u.ConcurrentExecutions, q.MaxConcurrentExecutions)
	}
	if q.MaxExecutionsPerDay > 0 && u.ExecutionsToday >= q.MaxExecutionsPerDay {
		return fmt.Errorf("tenant %q exceeded daily execution quota (%d/%d)", tenantID, u.ExecutionsToday, q.MaxExecutionsPerDay)
	}
	return nil
}

// RecordStart increments tenantID's concurrent and daily execution counters.
func (e *Enforcer) RecordStart(tenantID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.usage[tenantID]
	if u == nil {
		u = &Usage{}
		e.usage[tenantID] = u
	}
	u.ConcurrentExecutions++
	u.ExecutionsToday++
}

// RecordEnd decrements tenantID's concurrent execution counter.
func (e *Enforcer) RecordEnd(tenantID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.usage[tenantID]
	if u == nil {
		return
	}
	if u.ConcurrentExecutions > 0 {
		u.ConcurrentExecutions--
	}
}

// ResetDaily zeroes every tenant's daily execution counter. Intended to be
// called once a day by a background ticker.
func (e *Enforcer) ResetDaily() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range e.usage {
		u.ExecutionsToday = 0
	}
}

// Snapshot returns tenantID's current usage against its quota.
func (e *Enforcer) Snapshot(tenantID string) (Quota, Usage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.quotas[tenantID]
	var u Usage
	if existing := e.usage[tenantID]; existing != nil {
		u = *existing
	}
	return q, u
}
