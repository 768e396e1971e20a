package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// AppendEvent writes one entry to an execution's append-only audit trail.
// Events are never updated or deleted by application code.
func (s *Store) AppendEvent(ctx context.Context, executionID string, kind EventKind, detail any) (*Event, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal event detail: %w", err)
	}
	ev := Event{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Kind:        kind,
		Detail:      raw,
		CreatedAt:   nowUTC(),
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO events (id, execution_id, kind, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)`, ev.ID, ev.ExecutionID, ev.Kind, ev.Detail, ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: append event: %v", ErrUnavailable, err)
	}
	return &ev, nil
}

// ListEvents returns an execution's event trail in chronological order,
// optionally only those created after afterID (exclusive) for streaming.
func (s *Store) ListEvents(ctx context.Context, executionID string, afterID string) ([]Event, error) {
	var rows interface {
		Next() bool
		Scan(...any) error
		Err() error
		Close()
	}
	var err error
	if afterID == "" {
		rows, err = s.pool.Query(ctx, `SELECT id, execution_id, kind, detail, created_at
			FROM events WHERE execution_id=$1 ORDER BY created_at`, executionID)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT id, execution_id, kind, detail, created_at
			FROM events WHERE execution_id=$1 AND created_at > (
				SELECT created_at FROM events WHERE id=$2
			) ORDER BY created_at`, executionID, afterID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var detail []byte
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Kind, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Detail = detail
		out = append(out, e)
	}
	return out, rows.Err()
}
