package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/domino/internal/ir"
)

// Snapshot is an app-db value captured at a journal seq.
type Snapshot struct {
	RunID     string
	Seq       int64
	State     ir.IRValue
	StateHash string
}

// WriteSnapshot stores db at seq and returns the snapshot.
// Writing the same seq twice keeps the first value.
func (s *Store) WriteSnapshot(ctx context.Context, runID string, seq int64, db ir.IRValue) (Snapshot, error) {
	state, err := marshalValue("state", db)
	if err != nil {
		return Snapshot{}, fmt.Errorf("write snapshot: %w", err)
	}
	snap := Snapshot{RunID: runID, Seq: seq, State: db, StateHash: ir.StateHash(db)}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, seq, state, state_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`, runID, seq, state, snap.StateHash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("write snapshot: %w", err)
	}
	return snap, nil
}

// LatestSnapshot returns the snapshot with the highest seq, or ErrNotFound.
func (s *Store) LatestSnapshot(ctx context.Context, runID string) (Snapshot, error) {
	var (
		snap  = Snapshot{RunID: runID}
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, state, state_hash
		FROM snapshots
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, runID).Scan(&snap.Seq, &state, &snap.StateHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("snapshot for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	if snap.State, err = unmarshalValue("state", state); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
