package events

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/appdb"
	"github.com/roach88/domino/internal/cofx"
	"github.com/roach88/domino/internal/fx"
	"github.com/roach88/domino/internal/interceptor"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/registrar"
	"github.com/roach88/domino/internal/testutil"
	"github.com/roach88/domino/internal/trace"
)

type fixture struct {
	reg    *registrar.Registrar
	db     *appdb.DB
	router *Router
	logs   *bytes.Buffer
	sched  *testutil.FakeScheduler
	tracer *trace.Tracer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	s := testutil.NewFakeScheduler()
	tr := trace.New(true, trace.WithScheduler(s), trace.WithLogger(logger))
	reg := registrar.New(registrar.WithLogger(logger))
	db := appdb.New(ir.Obj(ir.O("count", ir.IRInt(0))))
	return &fixture{
		reg:    reg,
		db:     db,
		router: New(reg, db, WithTracer(tr), WithLogger(logger)),
		logs:   &logs,
		sched:  s,
		tracer: tr,
	}
}

// std returns the standard chain prefix used by the engine.
func (f *fixture) std() []*interceptor.Interceptor {
	return []*interceptor.Interceptor{cofx.InjectDB(f.db), fx.DoFx(f.reg)}
}

func increment() *interceptor.Interceptor {
	return interceptor.DBHandler(func(db, _ ir.IRValue) ir.IRValue {
		n, _ := ir.GetIn(db, "count")
		return ir.AssocIn(db, []string{"count"}, n.(ir.IRInt)+1)
	})
}

func TestHandleIncrementTwice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, fx.Reg(f.reg, fx.EffectDB, func(v ir.IRValue) error {
		f.db.Reset(v)
		return nil
	}))
	require.NoError(t, f.router.Register("increment", f.std(), []*interceptor.Interceptor{increment()}))

	require.NoError(t, f.router.Handle(ir.NewEvent("increment")))
	require.NoError(t, f.router.Handle(ir.NewEvent("increment")))

	assert.True(t, ir.Equal(ir.Obj(ir.O("count", ir.IRInt(2))), f.db.Read()))
}

func TestHandleUnknownEvent(t *testing.T) {
	f := newFixture(t)
	before := f.db.Read()

	err := f.router.Handle(ir.NewEvent("missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	assert.True(t, ir.Same(before, f.db.Read()))
	assert.Equal(t, 1, strings.Count(f.logs.String(), "level=ERROR"))
	assert.Contains(t, f.logs.String(), "no handler registered for event")
	assert.Contains(t, f.logs.String(), "event=missing")
}

func TestRegisterRejectsNilAndEmpty(t *testing.T) {
	f := newFixture(t)

	err := f.router.Register("bad", []*interceptor.Interceptor{nil, increment()})
	assert.ErrorContains(t, err, "nil")

	err = f.router.Register("empty")
	assert.ErrorContains(t, err, "empty")
	assert.Nil(t, f.router.Chain("bad"))
}

func TestRegisterFlattensNestedChains(t *testing.T) {
	f := newFixture(t)
	a := &interceptor.Interceptor{ID: "a"}
	b := &interceptor.Interceptor{ID: "b"}
	h := increment()

	require.NoError(t, f.router.Register("e", []*interceptor.Interceptor{a}, []*interceptor.Interceptor{b, h}))
	assert.Equal(t, []*interceptor.Interceptor{a, b, h}, f.router.Chain("e"))
}

func TestHandleStageFailureLogged(t *testing.T) {
	f := newFixture(t)
	failing := &interceptor.Interceptor{ID: "validator", Before: func(*interceptor.Context) error {
		return errors.New("invalid payload")
	}}
	require.NoError(t, f.router.Register("e", f.std(), []*interceptor.Interceptor{failing, increment()}))
	before := f.db.Read()

	err := f.router.Handle(ir.NewEvent("e"))
	var se *interceptor.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "validator", se.InterceptorID)

	assert.True(t, ir.Same(before, f.db.Read()))
	assert.Contains(t, f.logs.String(), CodeInterceptorFailed)
	assert.Contains(t, f.logs.String(), "interceptor=validator")
}

func TestHandleLogsAfterFailureDuringUnwind(t *testing.T) {
	f := newFixture(t)
	cleanup := &interceptor.Interceptor{ID: "cleanup", After: func(*interceptor.Context) error {
		return errors.New("cleanup broke")
	}}
	failing := &interceptor.Interceptor{ID: "validator", Before: func(*interceptor.Context) error {
		return errors.New("invalid payload")
	}}
	require.NoError(t, f.router.Register("e", f.std(), []*interceptor.Interceptor{cleanup, failing, increment()}))

	err := f.router.Handle(ir.NewEvent("e"))
	var se *interceptor.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "validator", se.InterceptorID, "the original failure is returned")

	logs := f.logs.String()
	assert.Contains(t, logs, "interceptor failed while unwinding")
	assert.Contains(t, logs, "interceptor=cleanup")
	assert.Contains(t, logs, "cleanup broke")
	assert.Equal(t, 2, strings.Count(logs, CodeInterceptorFailed))
}

func TestHandleTraced(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, fx.Reg(f.reg, fx.EffectDB, func(v ir.IRValue) error {
		f.db.Reset(v)
		return nil
	}))
	var got []trace.Record
	f.tracer.RegisterCallback("cb", func(rs []trace.Record) error {
		got = rs
		return nil
	})
	chain := []*interceptor.Interceptor{cofx.InjectDB(f.db), fx.DoFx(f.reg, fx.WithTracer(f.tracer)), increment()}
	require.NoError(t, f.router.Register("increment", chain))

	require.NoError(t, f.router.Handle(ir.NewEvent("increment")))
	f.sched.Advance(trace.DebounceDelay)

	require.Len(t, got, 2)
	assert.Equal(t, trace.OpDoFx, got[0].OpType)
	assert.Equal(t, trace.OpEvent, got[1].OpType)
	assert.Equal(t, got[1].ID, got[0].ChildOf)

	before, _ := ir.GetIn(got[1].Tags["app-db-before"], "count")
	after, _ := ir.GetIn(got[1].Tags["app-db-after"], "count")
	assert.Equal(t, ir.IRInt(0), before)
	assert.Equal(t, ir.IRInt(1), after)
	assert.Equal(t, ir.Arr(ir.IRString("increment")), got[1].Tags["event"])
}
