package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/domino/internal/ir"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one recorded engine session.
type Run struct {
	ID             string
	Program        string
	ProgramHash    string
	EngineVersion  string
	JournalVersion string
	Status         string
	StartedAt      time.Time
	FinishedAt     time.Time // zero while running
	Events         int64     // journal entries; filled by ListRuns and ReadRun
}

// NewRunID returns a fresh UUIDv7 run id. UUIDv7 ids sort by creation time.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// CreateRun inserts a run in the running state. Empty ID, versions and
// StartedAt are filled in. The stored run is returned.
func (s *Store) CreateRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.EngineVersion == "" {
		run.EngineVersion = ir.EngineVersion
	}
	if run.JournalVersion == "" {
		run.JournalVersion = ir.JournalVersion
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, program, program_hash, engine_version, journal_version, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Program,
		run.ProgramHash,
		run.EngineVersion,
		run.JournalVersion,
		run.Status,
		run.StartedAt.UnixNano(),
	)
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// FinishRun records the final status of a run.
func (s *Store) FinishRun(ctx context.Context, id, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
	`, status, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `
	r.id, r.program, r.program_hash, r.engine_version, r.journal_version,
	r.status, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM journal j WHERE j.run_id = r.id)
`

// ReadRun returns a run by id, or ErrNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns runs newest first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs r ORDER BY r.started_at DESC, r.id COLLATE BINARY DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
	)
	err := sc.Scan(
		&run.ID,
		&run.Program,
		&run.ProgramHash,
		&run.EngineVersion,
		&run.JournalVersion,
		&run.Status,
		&started,
		&finished,
		&run.Events,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		run.FinishedAt = time.Unix(0, finished.Int64)
	}
	return run, nil
}
