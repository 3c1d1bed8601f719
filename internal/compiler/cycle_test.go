package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
)

func dispatchTo(ids ...string) ir.IRObject {
	if len(ids) == 1 {
		return ir.Obj(ir.O("dispatch", ir.Arr(ir.IRString(ids[0]))))
	}
	list := ir.IRArray{}
	for _, id := range ids {
		list = append(list, ir.Arr(ir.IRString(id)))
	}
	return ir.Obj(ir.O("dispatch-n", list))
}

func laterTo(id string) ir.IRObject {
	return ir.Obj(ir.O("dispatch-later", ir.Obj(ir.O("ms", ir.IRInt(100)), ir.O("dispatch", ir.Arr(ir.IRString(id))))))
}

func program(events map[string]ir.IRObject) *ir.Program {
	p := &ir.Program{Name: "p", Events: map[string]ir.EventSpec{}}
	for id, fx := range events {
		p.Events[id] = ir.EventSpec{ID: id, Kind: ir.KindFx, Fx: fx}
	}
	return p
}

func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
	assert.Empty(t, AnalyzeCycles(&ir.Program{}))
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	p := program(map[string]ir.IRObject{
		"checkout": dispatchTo("reserve", "charge"),
		"reserve":  dispatchTo("notify"),
		"charge":   dispatchTo("notify"),
		"notify":   {},
	})
	assert.Empty(t, AnalyzeCycles(p))
}

func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	p := program(map[string]ir.IRObject{"loop": dispatchTo("loop")})

	warnings := AnalyzeCycles(p)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"loop", "loop"}, warnings[0].Path)
	assert.Equal(t, LevelWarning, warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Self-dispatching event")
}

func TestAnalyzeCycles_DelayedSelfLoopIsInfo(t *testing.T) {
	p := program(map[string]ir.IRObject{"tick": laterTo("tick")})

	warnings := AnalyzeCycles(p)
	require.Len(t, warnings, 1)
	assert.Equal(t, LevelInfo, warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "dispatch-later")
}

func TestAnalyzeCycles_ThreeNodeCycle(t *testing.T) {
	p := program(map[string]ir.IRObject{
		"a":     dispatchTo("b"),
		"b":     dispatchTo("c"),
		"c":     dispatchTo("a"),
		"other": dispatchTo("a"),
	})

	warnings := AnalyzeCycles(p)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, warnings[0].Path)
	assert.Equal(t, "Potential dispatch cycle: a → b → c → a", warnings[0].Message)
}

func TestAnalyzeCycles_IndependentCyclesSorted(t *testing.T) {
	p := program(map[string]ir.IRObject{
		"x": dispatchTo("y"),
		"y": dispatchTo("x"),
		"a": dispatchTo("a"),
	})

	warnings := AnalyzeCycles(p)
	require.Len(t, warnings, 2)
	assert.Equal(t, "a", warnings[0].Path[0])
	assert.Equal(t, "x", warnings[1].Path[0])
}

func TestAnalyzeCycles_IgnoresUndeclaredAndLua(t *testing.T) {
	p := program(map[string]ir.IRObject{"a": dispatchTo("ghost")})
	p.Events["lua"] = ir.EventSpec{ID: "lua", Kind: ir.KindFx, Lua: `function handle(c, e) return {dispatch = array("lua")} end`}

	assert.Empty(t, AnalyzeCycles(p))
}

func TestAnalyzeCycles_Deterministic(t *testing.T) {
	p := program(map[string]ir.IRObject{
		"a": dispatchTo("b", "c"),
		"b": dispatchTo("a"),
		"c": dispatchTo("a"),
	})
	first := AnalyzeCycles(p)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, AnalyzeCycles(p))
	}
}
