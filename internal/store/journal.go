package store

import (
	"context"
	"fmt"

	"github.com/roach88/domino/internal/ir"
)

// JournalEntry is one handled event of a run.
type JournalEntry struct {
	RunID     string
	Seq       int64
	FlowToken string
	Event     ir.Event
	Nested    bool
}

// AppendJournal inserts a journal entry.
// Uses ON CONFLICT DO NOTHING for idempotency - a retried seq is ignored.
func (s *Store) AppendJournal(ctx context.Context, e JournalEntry) error {
	eventJSON, err := marshalValue("event", e.Event.Vector())
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journal (run_id, seq, flow_token, event_id, event, nested)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		e.RunID,
		e.Seq,
		e.FlowToken,
		e.Event.ID,
		eventJSON,
		e.Nested,
	)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// ReadJournal returns a run's entries ordered by seq.
// Returns an empty slice (not nil) when the run has no entries.
func (s *Store) ReadJournal(ctx context.Context, runID string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, flow_token, event, nested
		FROM journal
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		var (
			e         = JournalEntry{RunID: runID}
			eventJSON string
		)
		if err := rows.Scan(&e.Seq, &e.FlowToken, &eventJSON, &e.Nested); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		v, err := unmarshalValue("event", eventJSON)
		if err != nil {
			return nil, fmt.Errorf("journal seq %d: %w", e.Seq, err)
		}
		if e.Event, err = ir.ParseEvent(v); err != nil {
			return nil, fmt.Errorf("journal seq %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// RunJournal appends to one run's journal. It satisfies the engine's
// Journal interface.
type RunJournal struct {
	store *Store
	runID string
}

// Journal returns a RunJournal bound to runID.
func (s *Store) Journal(runID string) *RunJournal {
	return &RunJournal{store: s, runID: runID}
}

// RunID returns the run the journal writes to.
func (j *RunJournal) RunID() string {
	return j.runID
}

// Append writes one entry.
func (j *RunJournal) Append(seq int64, flowToken string, ev ir.Event, nested bool) error {
	return j.store.AppendJournal(context.Background(), JournalEntry{
		RunID:     j.runID,
		Seq:       seq,
		FlowToken: flowToken,
		Event:     ev,
		Nested:    nested,
	})
}
