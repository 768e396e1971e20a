/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package store is the Postgres-backed persistence layer for executions,
// steps, approvals, the work queue, locks, and the append-only event log.
// It is the only component other than the fast cancellation cache that
// holds cross-worker state — everything else in this module treats it as
// the source of truth.
package store

import (
	"encoding/json"
	"time"
)

// SLAClass bounds how long an execution is allowed to run and how many
// attempts a step gets before it is dead-lettered.
type SLAClass string

const (
	SLAFast   SLAClass = "fast"
	SLAMedium SLAClass = "medium"
	SLALong   SLAClass = "long"
)

// ActionClass is the coarse risk classification used by the approval gate.
type ActionClass string

const (
	ActionInformation  ActionClass = "information"
	ActionOperational  ActionClass = "operational"
	ActionDiagnostic   ActionClass = "diagnostic"
	ActionProvisioning ActionClass = "provisioning"
)

// actionClassRank orders classes from least to most risky so a mixed plan
// can be classified by its highest-risk step (Open Question 1).
var actionClassRank = map[ActionClass]int{
	ActionInformation:  0,
	ActionDiagnostic:   1,
	ActionOperational:  2,
	ActionProvisioning: 3,
}

// HighestActionClass returns whichever of a, b ranks as more risky.
func HighestActionClass(a, b ActionClass) ActionClass {
	if actionClassRank[b] > actionClassRank[a] {
		return b
	}
	return a
}

// ExecutionStatus is the execution FSM state.
type ExecutionStatus string

const (
	ExecutionPendingApproval ExecutionStatus = "pending_approval"
	ExecutionQueued          ExecutionStatus = "queued"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionSucceeded       ExecutionStatus = "succeeded"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
	ExecutionTimedOut        ExecutionStatus = "timed_out"
	ExecutionRejected        ExecutionStatus = "rejected"
)

// executionTransitions is the allowed FSM edge set. Any transition not
// listed here is an IllegalStateTransition.
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPendingApproval: {ExecutionQueued, ExecutionRejected, ExecutionCancelled},
	ExecutionQueued:          {ExecutionRunning, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut},
	ExecutionRunning:         {ExecutionSucceeded, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut},
}

// CanTransition reports whether from -> to is a legal execution FSM edge.
func CanTransition(from, to ExecutionStatus) bool {
	for _, candidate := range executionTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// StepStatus is the per-step lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// ApprovalStatus is the approval request lifecycle state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Execution is the top-level unit of work: one validated plan submitted for
// a tenant/actor pair, carrying an ordered list of Steps.
type Execution struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ActorID         string          `json:"actor_id"`
	IdempotencyKey  string          `json:"idempotency_key"`
	SLAClass        SLAClass        `json:"sla_class"`
	ActionClass     ActionClass     `json:"action_class"`
	Status          ExecutionStatus `json:"status"`
	PlanSnapshot    json.RawMessage `json:"plan_snapshot"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
}

// Step is one unit of plan execution belonging to an Execution.
type Step struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Sequence    int             `json:"sequence"`
	Type        string          `json:"type"`
	AssetID     string          `json:"asset_id"`
	Inputs      json.RawMessage `json:"inputs"`
	Status      StepStatus      `json:"status"`
	Attempt     int             `json:"attempt"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorClass  string          `json:"error_class,omitempty"`
	ErrorMsg    string          `json:"error_message,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
}

// Approval is a human decision gate blocking an execution's admission.
type Approval struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// QueueItem is a dispatch-ready unit of work waiting for a worker lease.
type QueueItem struct {
	ID           string     `json:"id"`
	ExecutionID  string     `json:"execution_id"`
	TenantID     string     `json:"tenant_id"`
	SLAClass     SLAClass   `json:"sla_class"`
	Attempt      int        `json:"attempt"`
	MaxAttempts  int        `json:"max_attempts"`
	AvailableAt  time.Time  `json:"available_at"`
	LeaseOwner   string     `json:"lease_owner,omitempty"`
	LeaseExpires *time.Time `json:"lease_expires,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DLQItem is a QueueItem that exhausted its retry budget.
type DLQItem struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id"`
	SLAClass    SLAClass  `json:"sla_class"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	DeadAt      time.Time `json:"dead_at"`
}

// Lock is a per-asset advisory mutex held for the duration of a step. LockKey
// is the versioned composite key v1:{tenant}:{target_ref}:{action} (spec
// §3/§4.2.2), never a bare asset id: folding tenant and action into the key
// keeps two tenants' identically-named targets, or two different actions on
// the same target, from contending on the same row.
type Lock struct {
	LockKey     string    `json:"lock_key"`
	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TimeoutPolicy bounds per-step and per-execution duration for an SLA class.
// Seeded at install time, read-only at runtime.
type TimeoutPolicy struct {
	SLAClass        SLAClass      `json:"sla_class"`
	StepTimeout     time.Duration `json:"step_timeout"`
	ExecutionBudget time.Duration `json:"execution_budget"`
	MaxAttempts     int           `json:"max_attempts"`
}

// EventKind enumerates the append-only Event stream's entry types.
type EventKind string

const (
	EventExecutionCreated   EventKind = "execution.created"
	EventExecutionQueued    EventKind = "execution.queued"
	EventExecutionStarted   EventKind = "execution.started"
	EventExecutionFinished  EventKind = "execution.finished"
	EventExecutionCancelled EventKind = "execution.cancelled"
	EventStepStarted        EventKind = "step.started"
	EventStepFinished       EventKind = "step.finished"
	EventApprovalRequested  EventKind = "approval.requested"
	EventApprovalDecided    EventKind = "approval.decided"
	EventRBACViolation      EventKind = "rbac_violation"
)

// Event is an append-only record in an execution's audit trail.
type Event struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Kind        EventKind       `json:"kind"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DefaultMaxAttempts returns the spec-mandated default retry budget per SLA class.
func DefaultMaxAttempts(class SLAClass) int {
	switch class {
	case SLAFast:
		return 2
	case SLAMedium:
		return 3
	case SLALong:
		return 5
	default:
		return 3
	}
}
