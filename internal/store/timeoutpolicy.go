package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SeedTimeoutPolicies installs (or replaces) the read-only timeout policy
// table at install time. Never called at request-serving time.
func (s *Store) SeedTimeoutPolicies(ctx context.Context, policies []TimeoutPolicy) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range policies {
		_, err := tx.Exec(ctx, `INSERT INTO timeout_policies (sla_class, step_timeout_ms, execution_budget_ms, max_attempts)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (sla_class) DO UPDATE SET
				step_timeout_ms=EXCLUDED.step_timeout_ms,
				execution_budget_ms=EXCLUDED.execution_budget_ms,
				max_attempts=EXCLUDED.max_attempts`,
			p.SLAClass, p.StepTimeout.Milliseconds(), p.ExecutionBudget.Milliseconds(), p.MaxAttempts)
		if err != nil {
			return fmt.Errorf("%w: seed timeout policy %s: %v", ErrUnavailable, p.SLAClass, err)
		}
	}
	return tx.Commit(ctx)
}

// GetTimeoutPolicy returns the read-only policy for an SLA class.
func (s *Store) GetTimeoutPolicy(ctx context.Context, class SLAClass) (*TimeoutPolicy, error) {
	row := s.pool.QueryRow(ctx, `SELECT sla_class, step_timeout_ms, execution_budget_ms, max_attempts
		FROM timeout_policies WHERE sla_class=$1`, class)
	var p TimeoutPolicy
	var stepMS, budgetMS int64
	if err := row.Scan(&p.SLAClass, &stepMS, &budgetMS, &p.MaxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get timeout policy: %v", ErrUnavailable, err)
	}
	p.StepTimeout = msToDuration(stepMS)
	p.ExecutionBudget = msToDuration(budgetMS)
	return &p, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
