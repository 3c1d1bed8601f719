package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/domino/internal/trace"
)

// WriteTraces inserts a batch of trace records in one transaction.
// A record whose (run, id) is already stored is ignored.
func (s *Store) WriteTraces(ctx context.Context, runID string, records []trace.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write traces: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO traces
		(run_id, id, operation, op_type, child_of, tags, start_ns, end_ns, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write traces: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		tags, err := marshalTags(r.Tags)
		if err != nil {
			return fmt.Errorf("write trace %d: %w", r.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			runID,
			r.ID,
			r.Operation,
			r.OpType,
			r.ChildOf,
			tags,
			r.Start.UnixNano(),
			r.End.UnixNano(),
			int64(r.Duration),
		)
		if err != nil {
			return fmt.Errorf("write trace %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write traces: commit: %w", err)
	}
	return nil
}

// TraceCallback returns a trace callback that persists every batch under runID.
func (s *Store) TraceCallback(runID string) trace.Callback {
	return func(records []trace.Record) error {
		return s.WriteTraces(context.Background(), runID, records)
	}
}

// TraceFilter selects trace records of one run. Zero fields match everything.
type TraceFilter struct {
	RunID       string
	OpType      string
	Operation   string
	MinDuration time.Duration
	Limit       int
}

// compile builds the parameterized query for f.
// Values are always bound, never interpolated, and results are ordered by id.
func (f TraceFilter) compile() (string, []any) {
	where := []string{"run_id = ?"}
	params := []any{f.RunID}
	if f.OpType != "" {
		where = append(where, "op_type = ?")
		params = append(params, f.OpType)
	}
	if f.Operation != "" {
		where = append(where, "operation = ?")
		params = append(params, f.Operation)
	}
	if f.MinDuration > 0 {
		where = append(where, "duration_ns >= ?")
		params = append(params, int64(f.MinDuration))
	}

	sql := "SELECT id, operation, op_type, child_of, tags, start_ns, end_ns, duration_ns FROM traces WHERE " +
		strings.Join(where, " AND ") + " ORDER BY id ASC"
	if f.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, f.Limit)
	}
	return sql, params
}

// QueryTraces returns the records matching f, ordered by id.
func (s *Store) QueryTraces(ctx context.Context, f TraceFilter) ([]trace.Record, error) {
	query, params := f.compile()
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	records := []trace.Record{}
	for rows.Next() {
		var (
			r              trace.Record
			tags           string
			start, end, ns int64
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.OpType, &r.ChildOf, &tags, &start, &end, &ns); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		if r.Tags, err = unmarshalTags(tags); err != nil {
			return nil, fmt.Errorf("trace %d: %w", r.ID, err)
		}
		r.Start = time.Unix(0, start)
		r.End = time.Unix(0, end)
		r.Duration = time.Duration(ns)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return records, nil
}
