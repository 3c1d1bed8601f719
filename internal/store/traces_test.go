package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/testutil"
	"github.com/roach88/domino/internal/trace"
)

func testRecords() []trace.Record {
	start := time.Unix(1700000000, 0)
	rec := func(id int64, op, opType string, d time.Duration, childOf int64) trace.Record {
		return trace.Record{
			ID:        id,
			Operation: op,
			OpType:    opType,
			ChildOf:   childOf,
			Start:     start,
			End:       start.Add(d),
			Duration:  d,
		}
	}
	r1 := rec(1, "increment", trace.OpEvent, 3*time.Millisecond, 0)
	r1.Tags = ir.Obj(ir.O("event", ir.Arr(ir.IRString("increment"))))
	return []trace.Record{
		r1,
		rec(2, "increment", trace.OpDoFx, time.Millisecond, 1),
		rec(3, "count", trace.OpSubRun, 10*time.Microsecond, 0),
	}
}

func TestWriteTraces_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	runID := createTestRun(t, s)

	require.NoError(t, s.WriteTraces(ctx, runID, testRecords()))
	// Redelivered batches are ignored.
	require.NoError(t, s.WriteTraces(ctx, runID, testRecords()[:1]))

	got, err := s.QueryTraces(ctx, TraceFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, got, 3)

	want := testRecords()
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].OpType, got[i].OpType)
		assert.Equal(t, want[i].ChildOf, got[i].ChildOf)
		assert.Equal(t, want[i].Duration, got[i].Duration)
		assert.True(t, want[i].End.Equal(got[i].End))
	}
	assert.True(t, ir.Equal(want[0].Tags, got[0].Tags))
	assert.Nil(t, got[1].Tags)
}

func TestQueryTraces_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	runID := createTestRun(t, s)
	require.NoError(t, s.WriteTraces(ctx, runID, testRecords()))

	tests := []struct {
		name   string
		filter TraceFilter
		want   []int64
	}{
		{"op type", TraceFilter{OpType: trace.OpDoFx}, []int64{2}},
		{"operation", TraceFilter{Operation: "increment"}, []int64{1, 2}},
		{"min duration", TraceFilter{MinDuration: time.Millisecond}, []int64{1, 2}},
		{"limit", TraceFilter{Limit: 2}, []int64{1, 2}},
		{"combined", TraceFilter{Operation: "increment", MinDuration: 2 * time.Millisecond}, []int64{1}},
		{"other run", TraceFilter{RunID: "other"}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.filter
			if f.RunID == "" {
				f.RunID = runID
			}
			got, err := s.QueryTraces(ctx, f)
			require.NoError(t, err)
			ids := []int64{}
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestTraceFilter_CompileParameterized(t *testing.T) {
	sql, params := TraceFilter{RunID: "r", OpType: "event", MinDuration: time.Second, Limit: 5}.compile()

	assert.Equal(t,
		"SELECT id, operation, op_type, child_of, tags, start_ns, end_ns, duration_ns FROM traces "+
			"WHERE run_id = ? AND op_type = ? AND duration_ns >= ? ORDER BY id ASC LIMIT ?",
		sql)
	assert.Equal(t, []any{"r", "event", int64(time.Second), 5}, params)
}

func TestTraceCallback_PersistsDeliveredBatch(t *testing.T) {
	s := createTestStore(t)
	runID := createTestRun(t, s)

	fake := testutil.NewFakeScheduler()
	tracer := trace.New(true, trace.WithScheduler(fake))
	tracer.RegisterCallback("store", s.TraceCallback(runID))

	span := tracer.Start(trace.Op{Operation: "increment", OpType: trace.OpEvent})
	span.Finish()
	fake.Advance(trace.DebounceDelay)

	got, err := s.QueryTraces(context.Background(), TraceFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "increment", got[0].Operation)
}
