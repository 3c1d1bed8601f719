// Package trace records timed operations and delivers them in batches.
//
// Tracing is switched on or off when the Tracer is built and never changes
// afterwards. When off, every method is a cheap no-op. When on, finished
// spans are buffered and handed to registered callbacks on a debounce
// timer: the first finish arms a DebounceDelay timer, and later finishes
// re-arm it only if the pending delivery is less than Grace away.
package trace

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/sched"
)

const (
	// DebounceDelay is how long after the last re-arm a batch is delivered.
	DebounceDelay = 50 * time.Millisecond

	// Grace is how close the pending delivery may be before a finish re-arms it.
	Grace = 25 * time.Millisecond
)

// CodeCallbackFailed is logged when a trace callback panics or errors.
const CodeCallbackFailed = "TRACE_CALLBACK_FAILED"

// Op types emitted by the runtime.
const (
	OpEvent        = "event"
	OpDoFx         = "event/do-fx"
	OpSubRun       = "sub/run"
	OpSubCreate    = "sub/create"
	OpSyncDispatch = "sync-dispatch"
)

// Op describes a span to start.
type Op struct {
	Operation string
	OpType    string
	Tags      ir.IRObject
	// ChildOf names an explicit parent span id. Zero means the current span.
	ChildOf int64
}

// Record is a finished span.
type Record struct {
	ID        int64         `json:"id"`
	Operation string        `json:"operation"`
	OpType    string        `json:"op_type"`
	Tags      ir.IRObject   `json:"tags,omitempty"`
	ChildOf   int64         `json:"child_of,omitempty"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
}

// Callback receives a batch of records. A returned error is logged.
type Callback func(records []Record) error

// Tracer allocates span ids and fans finished spans out to callbacks.
type Tracer struct {
	enabled bool
	sched   sched.Scheduler
	logger  *slog.Logger

	mu           sync.Mutex
	nextID       int64
	current      *Span
	callbacks    map[string]Callback
	nextDelivery time.Time
	debouncer    *Debouncer
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithScheduler sets the clock and timer source. Default: sched.System().
func WithScheduler(s sched.Scheduler) Option {
	return func(t *Tracer) {
		t.sched = s
	}
}

// WithLogger sets the logger for callback failures and warnings.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) {
		t.logger = l
	}
}

// New creates a tracer. enabled is fixed for the tracer's lifetime.
func New(enabled bool, opts ...Option) *Tracer {
	t := &Tracer{
		enabled:   enabled,
		sched:     sched.System(),
		logger:    slog.Default(),
		callbacks: make(map[string]Callback),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.debouncer = NewDebouncer(t.sched, DebounceDelay, t.deliver)
	return t
}

// Enabled reports whether tracing is on.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

// RegisterCallback adds or replaces the callback under key.
func (t *Tracer) RegisterCallback(key string, cb Callback) {
	if !t.Enabled() {
		t.logger.Warn("tracing is not enabled; trace callback will never be called", "callback", key)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[key] = cb
}

// RemoveCallback removes the callback under key.
func (t *Tracer) RemoveCallback(key string) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, key)
}

// Reset zeroes the id counter.
func (t *Tracer) Reset() {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID = 0
}

// Start opens a span and makes it current. Returns nil when tracing is off;
// a nil *Span accepts every method.
func (t *Tracer) Start(op Op) *Span {
	if !t.Enabled() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	parent := op.ChildOf
	if parent == 0 && t.current != nil {
		parent = t.current.rec.ID
	}
	tags := make(ir.IRObject, len(op.Tags))
	for k, v := range op.Tags {
		tags[k] = v
	}
	s := &Span{
		tracer: t,
		prev:   t.current,
		rec: Record{
			ID:        t.nextID,
			Operation: op.Operation,
			OpType:    op.OpType,
			Tags:      tags,
			ChildOf:   parent,
			Start:     t.sched.Now(),
		},
	}
	t.current = s
	return s
}

// Current returns the id of the current span, or 0.
func (t *Tracer) Current() int64 {
	if !t.Enabled() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return 0
	}
	return t.current.rec.ID
}

// RunCallbacks schedules delivery. The timer is re-armed only when the
// pending delivery is less than Grace away from now.
func (t *Tracer) RunCallbacks(now time.Time) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	rearm := t.nextDelivery.Add(-Grace).Before(now)
	if rearm {
		t.nextDelivery = now.Add(DebounceDelay)
	}
	t.mu.Unlock()

	if rearm {
		t.debouncer.Trigger()
	}
}

// Flush delivers buffered records immediately.
func (t *Tracer) Flush() {
	if !t.Enabled() {
		return
	}
	t.debouncer.Flush()
}

// Pending returns the number of buffered, undelivered records.
func (t *Tracer) Pending() int {
	if !t.Enabled() {
		return 0
	}
	return t.debouncer.Pending()
}

func (t *Tracer) finish(s *Span) {
	t.mu.Lock()
	s.rec.End = t.sched.Now()
	s.rec.Duration = s.rec.End.Sub(s.rec.Start)
	if t.current == s {
		t.current = s.prev
	}
	rec := s.rec
	t.mu.Unlock()

	t.debouncer.Record(rec)
	t.RunCallbacks(rec.End)
}

// deliver runs every callback in key order. Failures are isolated per
// callback; the batch is discarded afterwards either way.
func (t *Tracer) deliver(batch []Record) {
	t.mu.Lock()
	keys := make([]string, 0, len(t.callbacks))
	for k := range t.callbacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cbs := make([]Callback, len(keys))
	for i, k := range keys {
		cbs[i] = t.callbacks[k]
	}
	t.mu.Unlock()

	for i, cb := range cbs {
		if err := runCallback(cb, batch); err != nil {
			t.logger.Error("error thrown from trace callback",
				"code", CodeCallbackFailed,
				"callback", keys[i],
				"records", len(batch),
				"error", err,
			)
		}
	}
}

func runCallback(cb Callback, batch []Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb(batch)
}

// Span is an open traced operation.
type Span struct {
	tracer   *Tracer
	prev     *Span
	rec      Record
	finished bool
}

// ID returns the span id, or 0 for a nil span.
func (s *Span) ID() int64 {
	if s == nil {
		return 0
	}
	return s.rec.ID
}

// Tag merges a tag into the span.
func (s *Span) Tag(key string, v ir.IRValue) {
	if s == nil {
		return
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.rec.Tags[key] = v
}

// Finish closes the span. Finishing twice is a no-op.
func (s *Span) Finish() {
	if s == nil || s.finished {
		return
	}
	s.finished = true
	s.tracer.finish(s)
}
