package store

import "testing"

func TestHighestActionClass(t *testing.T) {
	cases := []struct {
		a, b, want ActionClass
	}{
		{ActionInformation, ActionProvisioning, ActionProvisioning},
		{ActionOperational, ActionDiagnostic, ActionOperational},
		{ActionProvisioning, ActionProvisioning, ActionProvisioning},
		{ActionInformation, ActionInformation, ActionInformation},
	}
	for _, tc := range cases {
		if got := HighestActionClass(tc.a, tc.b); got != tc.want {
			t.Errorf("HighestActionClass(%s,%s) = %s, want %s", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ExecutionStatus
		want     bool
	}{
		{ExecutionPendingApproval, ExecutionQueued, true},
		{ExecutionPendingApproval, ExecutionRunning, false},
		{ExecutionQueued, ExecutionRunning, true},
		{ExecutionQueued, ExecutionFailed, true},
		{ExecutionRunning, ExecutionSucceeded, true},
		{ExecutionSucceeded, ExecutionRunning, false},
		{ExecutionCancelled, ExecutionRunning, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s,%s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDefaultMaxAttempts(t *testing.T) {
	cases := []struct {
		class SLAClass
		want  int
	}{
		{SLAFast, 2},
		{SLAMedium, 3},
		{SLALong, 5},
	}
	for _, tc := range cases {
		if got := DefaultMaxAttempts(tc.class); got != tc.want {
			t.Errorf("DefaultMaxAttempts(%s) = %d, want %d", tc.class, got, tc.want)
		}
	}
}
