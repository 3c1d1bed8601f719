// Package engine implements the domino event runtime.
//
// The engine receives events, runs each through its registered interceptor
// chain, and actions the resulting effects. Effects may dispatch further
// events, which join the flow of the event that produced them.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All events are handled on one goroutine, one at a time, in FIFO order.
// This ensures:
// - A handler always sees the app-db left by the previous event
// - A journaled run replays to the same final state
// - Timer callbacks never race with handlers
//
// Event Processing Flow:
// 1. Dispatch enqueues the event with a fresh flow token
// 2. Run (or Flush) dequeues tasks one at a time
// 3. The event is charged against its flow's quota and stamped by Clock
// 4. The journal, if any, records it
// 5. The router runs the chain: inject db, user interceptors, handler,
// then do-fx actions the effects in its after stage
//
// Scheduler callbacks (trace delivery, dispatch-later) are posted onto the
// same queue, so the loop is the only writer of app-db.
//
// Logical Clock:
// Every handled event gets a monotonic seq from Clock.Next(). The journal is
// ordered by seq, never by wall-clock time.
//
// Quota:
// A flow may handle at most MaxSteps events before the queue next drains.
// The event that exceeds it is dropped and logged as QUOTA_EXCEEDED; this
// stops handlers that keep dispatching themselves.
package engine
