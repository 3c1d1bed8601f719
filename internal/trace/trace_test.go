package trace

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/testutil"
)

func newTestTracer(t *testing.T, enabled bool) (*Tracer, *testutil.FakeScheduler, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	s := testutil.NewFakeScheduler()
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	return New(enabled, WithScheduler(s), WithLogger(logger)), s, &logs
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tr, s, logs := newTestTracer(t, false)

	span := tr.Start(Op{Operation: "x", OpType: OpEvent})
	assert.Nil(t, span)
	span.Tag("k", ir.IRInt(1))
	span.Finish()

	tr.RegisterCallback("cb", func([]Record) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.Contains(t, logs.String(), "tracing is not enabled")
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0, tr.Pending())
}

func TestIDsIncreaseAndReset(t *testing.T) {
	tr, _, _ := newTestTracer(t, true)

	a := tr.Start(Op{Operation: "a"})
	a.Finish()
	b := tr.Start(Op{Operation: "b"})
	b.Finish()
	assert.Equal(t, int64(1), a.ID())
	assert.Equal(t, int64(2), b.ID())

	tr.Reset()
	c := tr.Start(Op{Operation: "c"})
	c.Finish()
	assert.Equal(t, int64(1), c.ID())
}

func TestParentFromCurrentSpan(t *testing.T) {
	tr, s, _ := newTestTracer(t, true)
	var got []Record
	tr.RegisterCallback("cb", func(rs []Record) error {
		got = append(got, rs...)
		return nil
	})

	outer := tr.Start(Op{Operation: "outer", OpType: OpEvent})
	inner := tr.Start(Op{Operation: "inner", OpType: OpDoFx})
	assert.Equal(t, inner.ID(), tr.Current())
	inner.Finish()
	assert.Equal(t, outer.ID(), tr.Current(), "finish restores the previous span")
	explicit := tr.Start(Op{Operation: "explicit", ChildOf: 42})
	explicit.Finish()
	outer.Finish()
	assert.Equal(t, int64(0), tr.Current())

	s.Advance(DebounceDelay)
	require.Len(t, got, 3)
	assert.Equal(t, "inner", got[0].Operation)
	assert.Equal(t, outer.ID(), got[0].ChildOf)
	assert.Equal(t, int64(42), got[1].ChildOf)
	assert.Equal(t, int64(0), got[2].ChildOf)
}

func TestDurationFromScheduler(t *testing.T) {
	tr, s, _ := newTestTracer(t, true)
	var got []Record
	tr.RegisterCallback("cb", func(rs []Record) error {
		got = rs
		return nil
	})

	span := tr.Start(Op{Operation: "slow", Tags: ir.Obj(ir.O("event", ir.Arr(ir.IRString("slow"))))})
	s.Advance(7 * time.Millisecond)
	span.Tag("app-db-after", ir.IRInt(1))
	span.Finish()
	span.Finish()

	s.Advance(DebounceDelay)
	require.Len(t, got, 1)
	assert.Equal(t, 7*time.Millisecond, got[0].Duration)
	assert.Equal(t, ir.IRInt(1), got[0].Tags["app-db-after"])
	assert.Contains(t, got[0].Tags, "event")
}

func TestBatchWithinWindowDeliveredOnce(t *testing.T) {
	tr, s, _ := newTestTracer(t, true)
	calls := 0
	var sizes []int
	tr.RegisterCallback("cb", func(rs []Record) error {
		calls++
		sizes = append(sizes, len(rs))
		return nil
	})

	for i := 0; i < 3; i++ {
		tr.Start(Op{Operation: "op"}).Finish()
		s.Advance(10 * time.Millisecond)
	}
	assert.Equal(t, 0, calls)

	s.Advance(DebounceDelay)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{3}, sizes)
	assert.Equal(t, 0, tr.Pending(), "buffer is cleared after delivery")
}

func TestRearmOnlyInsideGrace(t *testing.T) {
	tr, s, _ := newTestTracer(t, true)
	var deliveredAt []time.Time
	tr.RegisterCallback("cb", func([]Record) error {
		deliveredAt = append(deliveredAt, s.Now())
		return nil
	})

	tr.Start(Op{Operation: "a"}).Finish() // arms for t=50
	s.Advance(30 * time.Millisecond)
	tr.Start(Op{Operation: "b"}).Finish() // 50-25 < 30, re-arms for t=80

	s.Advance(49 * time.Millisecond)
	assert.Empty(t, deliveredAt)
	s.Advance(time.Millisecond)
	require.Len(t, deliveredAt, 1)
	assert.Equal(t, testutil.FakeEpoch.Add(80*time.Millisecond), deliveredAt[0])
}

func TestFailingCallbacksAreIsolated(t *testing.T) {
	tr, s, logs := newTestTracer(t, true)
	var good []Record
	tr.RegisterCallback("a-panics", func([]Record) error { panic("boom") })
	tr.RegisterCallback("b-errors", func([]Record) error { return errors.New("disk full") })
	tr.RegisterCallback("c-good", func(rs []Record) error {
		good = rs
		return nil
	})

	tr.Start(Op{Operation: "x"}).Finish()
	s.Advance(DebounceDelay)

	assert.Len(t, good, 1)
	out := logs.String()
	assert.Equal(t, 2, strings.Count(out, CodeCallbackFailed))
	assert.Contains(t, out, "callback=a-panics")
	assert.Contains(t, out, "disk full")
	assert.Equal(t, 0, tr.Pending())
}

func TestRemoveCallback(t *testing.T) {
	tr, s, _ := newTestTracer(t, true)
	calls := 0
	tr.RegisterCallback("cb", func([]Record) error {
		calls++
		return nil
	})
	tr.RemoveCallback("cb")

	tr.Start(Op{Operation: "x"}).Finish()
	s.Advance(DebounceDelay)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, tr.Pending())
}

func TestFlushDeliversImmediately(t *testing.T) {
	tr, _, _ := newTestTracer(t, true)
	var got []Record
	tr.RegisterCallback("cb", func(rs []Record) error {
		got = rs
		return nil
	})

	tr.Start(Op{Operation: "x"}).Finish()
	tr.Flush()
	assert.Len(t, got, 1)
}
