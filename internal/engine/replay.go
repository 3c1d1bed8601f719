package engine

import (
	"fmt"

	"github.com/roach88/domino/internal/fx"
	"github.com/roach88/domino/internal/ir"
)

// # Replay
//
// A journal holds every event an engine processed, in seq order, with the
// flow token it ran under. Replaying it on a fresh engine with the same
// program reproduces the final app-db, provided that:
//
//   - only the db effect executes (WithEffectFilter(DBOnly)). Events
//     dispatched by effects were journaled in their own right when they
//     ran, so re-running dispatch effects would handle them twice.
//   - nested entries are skipped. They were produced by DispatchSync from
//     inside another handler, which does it again when the parent replays.
//   - handlers are pure functions of coeffects and event. A coeffect that
//     reads the wall clock or a random source will diverge.
//
// Replay does not charge the quota: the original run already enforced it,
// and dropped events were never journaled. On a fresh engine the clock
// hands out the journaled seqs again; an entry that lands on a different
// seq is logged as drift, which usually means the program changed.

// Entry is one journaled event.
type Entry struct {
	Seq       int64
	FlowToken string
	Event     ir.Event
	Nested    bool
}

// DBOnly is the effect filter used for replay.
func DBOnly(id string) bool {
	return id == fx.EffectDB
}

// ReplayError reports handler failures during a replay that ran to the end.
type ReplayError struct {
	Failed int   // entries whose handler failed
	First  error // the first failure
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay: %d handler failure(s), first: %v", e.Failed, e.First)
}

func (e *ReplayError) Unwrap() error {
	return e.First
}

// Replay handles each non-nested entry in order and returns how many were
// replayed. Entries must be sorted by Seq. Handler failures are logged and
// counted; a *ReplayError is returned after the whole journal has run.
func (e *Engine) Replay(entries []Entry) (int, error) {
	var (
		n       int
		failed  *ReplayError
		lastSeq int64
	)
	for _, entry := range entries {
		if entry.Seq <= lastSeq {
			return n, fmt.Errorf("replay: entry seq %d out of order after %d", entry.Seq, lastSeq)
		}
		lastSeq = entry.Seq
		if entry.Nested {
			continue
		}
		if err := entry.Event.Validate(); err != nil {
			return n, fmt.Errorf("replay: entry %d: %w", entry.Seq, err)
		}
		if next := e.clock.Current() + 1; next != entry.Seq {
			e.logger.Warn("replay seq drift", "event", entry.Event.ID, "journal_seq", entry.Seq, "seq", next)
		}
		if err := e.handle(entry.Event, entry.FlowToken, false); err != nil {
			if failed == nil {
				failed = &ReplayError{First: err}
			}
			failed.Failed++
		}
		n++
		// Run anything the handler posted, such as trace deliveries.
		e.Flush()
	}
	e.logger.Info("replay complete", "events", n, "skipped", len(entries)-n)
	if failed != nil {
		return n, failed
	}
	return n, nil
}
