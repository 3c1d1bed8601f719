// Package store persists domino runs in SQLite.
//
// A run is one engine session. For each run the store keeps:
//   - journal: every handled event, keyed by the engine's seq
//   - traces: finished trace records, written by a trace callback
//   - snapshots: canonical app-db values with their state hash
//
// The journal is append-only and idempotent on (run_id, seq), so a
// retried write is harmless. Reads order by seq or trace id, never by
// wall-clock columns, so replay input is deterministic.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Values are stored as RFC 8785 canonical JSON (see internal/ir).
package store
