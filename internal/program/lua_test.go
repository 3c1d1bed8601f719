package program

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
)

func newScript(t *testing.T, src string) *Script {
	t.Helper()
	s, err := NewScript("test", src, time.Second)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestScriptIncrements(t *testing.T) {
	s := newScript(t, `
function handle(db, event)
  db.count = db.count + event[2]
  return db
end`)

	out, err := s.Call(ir.Obj(ir.O("count", ir.IRInt(1))), ir.Arr(ir.IRString("add"), ir.IRInt(4)))
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.Obj(ir.O("count", ir.IRInt(5))), out))
}

func TestScriptRoundTripsValues(t *testing.T) {
	s := newScript(t, `function handle(v) return v end`)
	in := ir.Obj(
		ir.O("s", ir.IRString("x")),
		ir.O("b", ir.IRBool(true)),
		ir.O("n", ir.IRInt(-12)),
		ir.O("empty-list", ir.IRArray{}),
		ir.O("empty-obj", ir.IRObject{}),
		ir.O("list", ir.Arr(ir.IRInt(1), ir.Arr(ir.IRString("nested")))),
	)

	out, err := s.Call(in)
	require.NoError(t, err)
	assert.True(t, ir.Equal(in, out), "got %v", out)
}

func TestScriptArrayHelper(t *testing.T) {
	s := newScript(t, `function handle() return {items = array(), pair = array(1, 2)} end`)

	out, err := s.Call()
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.Obj(
		ir.O("items", ir.IRArray{}),
		ir.O("pair", ir.Arr(ir.IRInt(1), ir.IRInt(2))),
	), out))
}

func TestScriptRejectsFloats(t *testing.T) {
	s := newScript(t, `function handle() return 1.5 end`)
	_, err := s.Call()
	assert.ErrorIs(t, err, ErrScript)
	assert.ErrorContains(t, err, "not an integer")
}

func TestScriptRejectsMixedTable(t *testing.T) {
	s := newScript(t, `function handle() return {1, a = 2} end`)
	_, err := s.Call()
	assert.ErrorContains(t, err, "mixes")
}

func TestScriptRuntimeError(t *testing.T) {
	s := newScript(t, `function handle() error("boom") end`)
	_, err := s.Call()
	assert.ErrorIs(t, err, ErrScript)
	assert.ErrorContains(t, err, "boom")

	// the state stays usable
	_, err = s.Call()
	assert.ErrorContains(t, err, "boom")
}

func TestScriptTimeout(t *testing.T) {
	s, err := NewScript("spin", `function handle() while true do end end`, 20*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Call()
	assert.ErrorIs(t, err, ErrScript)
}

func TestNewScriptRequiresHandle(t *testing.T) {
	_, err := NewScript("bad", `x = 1`, 0)
	assert.ErrorContains(t, err, "must define function handle")

	_, err = NewScript("syntax", `function handle(`, 0)
	assert.ErrorIs(t, err, ErrScript)
}

func TestScriptSandbox(t *testing.T) {
	s := newScript(t, `function handle() return {dofile = type(dofile), os = type(os), io = type(io)} end`)

	out, err := s.Call()
	require.NoError(t, err)
	for _, k := range []string{"dofile", "os", "io"} {
		assert.Equal(t, ir.IRString("nil"), out.(ir.IRObject)[k], k)
	}
}

func TestScriptClosed(t *testing.T) {
	s, err := NewScript("c", `function handle() return 1 end`, 0)
	require.NoError(t, err)
	s.Close()
	s.Close()

	_, err = s.Call()
	assert.ErrorContains(t, err, "closed")
}
