package interceptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
)

// recorder builds interceptors that log their stage calls.
type recorder struct {
	calls []string
}

func (r *recorder) ic(id string) *Interceptor {
	return &Interceptor{
		ID: id,
		Before: func(*Context) error {
			r.calls = append(r.calls, id+".before")
			return nil
		},
		After: func(*Context) error {
			r.calls = append(r.calls, id+".after")
			return nil
		},
	}
}

func TestExecuteOrder(t *testing.T) {
	r := &recorder{}

	_, err := Execute(ir.NewEvent("e"), []*Interceptor{r.ic("A"), r.ic("B"), r.ic("C")})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"A.before", "B.before", "C.before",
		"C.after", "B.after", "A.after",
	}, r.calls)
}

func TestExecuteSeedsCoeffects(t *testing.T) {
	ev := ir.NewEvent("add", ir.IRInt(2))
	var seen *Context
	probe := &Interceptor{ID: "probe", Before: func(ctx *Context) error {
		seen = ctx
		return nil
	}}

	ctx, err := Execute(ev, []*Interceptor{probe}, WithCoeffect("now", ir.IRInt(7)))
	require.NoError(t, err)
	require.NotNil(t, seen)

	assert.Equal(t, ev.Vector(), ctx.Event())
	assert.Equal(t, ev.Vector(), ctx.OriginalEvent())
	assert.Equal(t, ir.IRInt(7), ctx.Coeffects["now"])
	assert.Empty(t, ctx.Effects)
	assert.Empty(t, ctx.Queue())
	assert.Empty(t, ctx.Stack())
}

func TestNilStagesAreIdentity(t *testing.T) {
	r := &recorder{}
	_, err := Execute(ir.NewEvent("e"), []*Interceptor{{ID: "noop"}, r.ic("A")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A.before", "A.after"}, r.calls)
}

func TestBeforeErrorUnwindsEnteredInterceptors(t *testing.T) {
	r := &recorder{}
	boom := errors.New("boom")
	var errSeenByA error
	a := r.ic("A")
	a.After = func(ctx *Context) error {
		r.calls = append(r.calls, "A.after")
		errSeenByA = ctx.Err
		return nil
	}
	failing := &Interceptor{ID: "B", Before: func(*Context) error { return boom }}

	_, err := Execute(ir.NewEvent("e"), []*Interceptor{a, failing, r.ic("C")})
	require.Error(t, err)

	assert.Equal(t, []string{"A.before", "A.after"}, r.calls, "C never entered")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, errSeenByA, boom)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "e", se.EventID)
	assert.Equal(t, "B", se.InterceptorID)
	assert.Equal(t, PhaseBefore, se.Phase)
}

func TestUnwindKeepsOriginalError(t *testing.T) {
	first := errors.New("first")
	chain := []*Interceptor{
		{ID: "A", After: func(*Context) error { return errors.New("second") }},
		{ID: "B", Before: func(*Context) error { return first }},
	}

	ctx, err := Execute(ir.NewEvent("e"), chain)
	assert.ErrorIs(t, err, first)

	require.Len(t, ctx.Suppressed, 1)
	assert.Equal(t, "A", ctx.Suppressed[0].InterceptorID)
	assert.Equal(t, PhaseAfter, ctx.Suppressed[0].Phase)
	assert.EqualError(t, ctx.Suppressed[0].Err, "second")
}

func TestAfterErrorStopsRemainingAfters(t *testing.T) {
	r := &recorder{}
	failing := &Interceptor{ID: "B", After: func(*Context) error { return errors.New("nope") }}

	_, err := Execute(ir.NewEvent("e"), []*Interceptor{r.ic("A"), failing, r.ic("C")})
	require.Error(t, err)

	assert.Equal(t, []string{"A.before", "C.before", "C.after"}, r.calls)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PhaseAfter, se.Phase)
}

func TestPanicRecovered(t *testing.T) {
	chain := []*Interceptor{{ID: "P", Before: func(*Context) error { panic("kaboom") }}}

	var err error
	assert.NotPanics(t, func() {
		_, err = Execute(ir.NewEvent("e"), chain)
	})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "P", se.InterceptorID)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestStageMayExtendQueue(t *testing.T) {
	r := &recorder{}
	adder := &Interceptor{ID: "adder", Before: func(ctx *Context) error {
		ctx.Enqueue(r.ic("late"))
		return nil
	}}

	_, err := Execute(ir.NewEvent("e"), []*Interceptor{adder})
	require.NoError(t, err)
	assert.Equal(t, []string{"late.before", "late.after"}, r.calls)
}

func TestExecuteDoesNotMutateChain(t *testing.T) {
	r := &recorder{}
	chain := []*Interceptor{r.ic("A")}
	dropper := &Interceptor{ID: "dropper", Before: func(ctx *Context) error {
		ctx.SetQueue(nil)
		return nil
	}}
	full := append([]*Interceptor{dropper}, chain...)

	_, err := Execute(ir.NewEvent("e"), full)
	require.NoError(t, err)
	assert.Empty(t, r.calls)
	assert.Len(t, full, 2)
}

func TestFlatten(t *testing.T) {
	a, b, c := &Interceptor{ID: "a"}, &Interceptor{ID: "b"}, &Interceptor{ID: "c"}

	out, err := Flatten([]*Interceptor{a}, nil, []*Interceptor{b, c})
	require.NoError(t, err)
	assert.Equal(t, []*Interceptor{a, b, c}, out)

	_, err = Flatten([]*Interceptor{a, nil})
	assert.ErrorContains(t, err, "position 1")
}
