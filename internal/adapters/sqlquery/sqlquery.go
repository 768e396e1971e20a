// Package sqlquery dispatches database/sql steps against a configured
// Postgres channel. Grounded on the teacher's sql.go read-only-at-the-driver
// enforcement, pgx-stdlib driver registration kept, MySQL dropped (a single
// backend is all the spec's asset model needs).
package sqlquery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/marcus-qen/stagee/internal/executor"
)

const (
	defaultMaxRows  = 1000
	defaultMaxBytes = 8192
)

var readOnlyPrefixes = []string{"select", "show", "explain"}

// Channel describes one database an execution is permitted to query.
type Channel struct {
	DSN      string
	MaxRows  int
	MaxBytes int
}

// Input is the step payload for a database/sql step.
type Input struct {
	Channel string `json:"channel"`
	Query   string `json:"query"`
}

// Handler implements executor.Handler for the database step family.
type Handler struct {
	channels map[string]*sql.DB
	limits   map[string]Channel
}

// New opens a connection pool per configured channel.
func New(channels map[string]Channel) (*Handler, error) {
	h := &Handler{
		channels: make(map[string]*sql.DB, len(channels)),
		limits:   channels,
	}
	for name, ch := range channels {
		db, err := sql.Open("pgx", ch.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlquery: open channel %s: %w", name, err)
		}
		h.channels[name] = db
	}
	return h, nil
}

func (h *Handler) Name() string      { return "database" }
func (h *Handler) Aliases() []string { return []string{"sql"} }

// ResolveInputs decodes the step payload and rejects non-read-only queries
// before any connection is touched.
func (h *Handler) ResolveInputs(ctx context.Context, assetID string, rawInputs json.RawMessage) (executor.ResolvedInputs, error) {
	var in Input
	if err := json.Unmarshal(rawInputs, &in); err != nil {
		return nil, fmt.Errorf("sqlquery: decode inputs: %w", err)
	}
	if in.Channel == "" || in.Query == "" {
		return nil, fmt.Errorf("sqlquery: channel and query are required")
	}
	if !isReadOnly(in.Query) {
		return nil, fmt.Errorf("sqlquery: only read-only queries are permitted (SELECT/SHOW/EXPLAIN)")
	}
	if _, ok := h.channels[in.Channel]; !ok {
		return nil, fmt.Errorf("sqlquery: unknown channel %q", in.Channel)
	}
	return executor.ResolvedInputs{"channel": in.Channel, "query": in.Query}, nil
}

// Invoke runs the query and returns rows up to the channel's configured cap.
func (h *Handler) Invoke(ctx context.Context, assetID string, inputs executor.ResolvedInputs) (executor.Outcome, error) {
	channelName, _ := inputs["channel"].(string)
	query, _ := inputs["query"].(string)

	db := h.channels[channelName]
	limit := h.limits[channelName]
	maxRows := limit.MaxRows
	if maxRows == 0 {
		maxRows = defaultMaxRows
	}
	maxBytes := limit.MaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxBytes
	}

	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, query)
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("sqlquery: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("sqlquery: columns: %w", err)
	}

	results := make([]map[string]any, 0, maxRows)
	totalBytes := 0
	truncated := false
	for rows.Next() {
		if len(results) >= maxRows {
			truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return executor.Outcome{}, fmt.Errorf("sqlquery: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		rowBytes, _ := json.Marshal(row)
		totalBytes += len(rowBytes)
		if totalBytes > maxBytes {
			truncated = true
			break
		}
		results = append(results, row)
	}

	output, _ := json.Marshal(map[string]any{
		"rows":      results,
		"truncated": truncated,
	})
	return executor.Outcome{Success: true, Output: output}, nil
}

// CheckSuccess reports whether the query executed without error.
func (h *Handler) CheckSuccess(outcome executor.Outcome) bool {
	return outcome.Success
}

// DescribeError renders a safe summary of a query failure.
func (h *Handler) DescribeError(outcome executor.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return "query failed"
}

func isReadOnly(query string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(query))
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// Close closes every channel's connection pool.
func (h *Handler) Close() {
	for _, db := range h.channels {
		_ = db.Close()
	}
}
