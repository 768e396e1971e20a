package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateSteps inserts the ordered step list for a newly admitted execution.
func (s *Store) CreateSteps(ctx context.Context, steps []Step) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
		if steps[i].Status == "" {
			steps[i].Status = StepPending
		}
		_, err := tx.Exec(ctx, `INSERT INTO steps
			(id, execution_id, sequence, type, asset_id, inputs, status, attempt)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			steps[i].ID, steps[i].ExecutionID, steps[i].Sequence, steps[i].Type,
			steps[i].AssetID, steps[i].Inputs, steps[i].Status, steps[i].Attempt)
		if err != nil {
			return fmt.Errorf("%w: insert step: %v", ErrUnavailable, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// ListSteps returns an execution's steps in sequence order.
func (s *Store) ListSteps(ctx context.Context, executionID string) ([]Step, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, execution_id, sequence, type, asset_id, inputs, status,
		attempt, result, error_class, error_message, started_at, ended_at
		FROM steps WHERE execution_id = $1 ORDER BY sequence`, executionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list steps: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]Step, 0)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *step)
	}
	return out, rows.Err()
}

// NextPendingStep returns the lowest-sequence step still awaiting execution,
// or ErrNotFound if the execution's step list is exhausted.
func (s *Store) NextPendingStep(ctx context.Context, executionID string) (*Step, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, execution_id, sequence, type, asset_id, inputs, status,
		attempt, result, error_class, error_message, started_at, ended_at
		FROM steps WHERE execution_id = $1 AND status = $2 ORDER BY sequence LIMIT 1`,
		executionID, StepPending)
	return scanStep(row)
}

// UpdateStep persists a step's terminal or in-progress state.
func (s *Store) UpdateStep(ctx context.Context, step Step) error {
	_, err := s.pool.Exec(ctx, `UPDATE steps SET status=$1, attempt=$2, result=$3, error_class=$4,
		error_message=$5, started_at=$6, ended_at=$7 WHERE id = $8`,
		step.Status, step.Attempt, step.Result, step.ErrorClass, step.ErrorMsg,
		step.StartedAt, step.EndedAt, step.ID)
	if err != nil {
		return fmt.Errorf("%w: update step: %v", ErrUnavailable, err)
	}
	return nil
}

func scanStep(row rowScanner) (*Step, error) {
	var st Step
	var inputs, result []byte
	if err := row.Scan(&st.ID, &st.ExecutionID, &st.Sequence, &st.Type, &st.AssetID, &inputs,
		&st.Status, &st.Attempt, &result, &st.ErrorClass, &st.ErrorMsg, &st.StartedAt, &st.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan step: %v", ErrUnavailable, err)
	}
	st.Inputs = json.RawMessage(inputs)
	if result != nil {
		st.Result = json.RawMessage(result)
	}
	return &st, nil
}
