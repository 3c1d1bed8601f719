package program

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/domino/internal/ir"
)

// DefaultLuaTimeout bounds a single handler call.
const DefaultLuaTimeout = time.Second

// ErrScript is wrapped by every Lua handler failure.
var ErrScript = errors.New("lua handler failed")

// Script is a Lua chunk that defines a global function handle.
//
// gopher-lua states are not goroutine-safe; the mutex serializes calls. The
// engine is single-writer, so in practice it is never contended.
type Script struct {
	name    string
	timeout time.Duration

	mu        sync.Mutex
	L         *lua.LState
	arrayMeta *lua.LTable
	closed    bool
}

// NewScript loads src and checks that it defines handle.
// Only the base, table, string and math libraries are available, and the
// base functions that load code from files or strings are removed.
func NewScript(name, src string, timeout time.Duration) (*Script, error) {
	if timeout <= 0 {
		timeout = DefaultLuaTimeout
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, fn := range []string{"dofile", "loadfile", "load", "loadstring", "print"} {
		L.SetGlobal(fn, lua.LNil)
	}

	s := &Script{name: name, timeout: timeout, L: L, arrayMeta: L.NewTable()}
	s.arrayMeta.RawSetString("__name", lua.LString("array"))
	L.SetGlobal("array", L.NewFunction(s.luaArray))

	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: %s: load: %v", ErrScript, name, err)
	}
	if fn := L.GetGlobal("handle"); fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("%w: %s: script must define function handle(...), got %s", ErrScript, name, fn.Type())
	}
	return s, nil
}

// Call invokes handle with args and converts its single result.
func (s *Script) Call(args ...ir.IRValue) (ir.IRValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: %s: script closed", ErrScript, s.name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	lvs := make([]lua.LValue, len(args))
	for i, a := range args {
		lvs[i] = s.toLua(a)
	}
	err := s.L.CallByParam(lua.P{
		Fn:      s.L.GetGlobal("handle"),
		NRet:    1,
		Protect: true,
	}, lvs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrScript, s.name, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)

	v, err := s.fromLua(ret, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: result: %v", ErrScript, s.name, err)
	}
	return v, nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
}

// luaArray builds an array from its arguments: array(1, 2, 3).
// Tables made with it stay arrays when empty.
func (s *Script) luaArray(L *lua.LState) int {
	t := L.NewTable()
	for i := 1; i <= L.GetTop(); i++ {
		t.RawSetInt(i, L.Get(i))
	}
	L.SetMetatable(t, s.arrayMeta)
	L.Push(t)
	return 1
}

func (s *Script) toLua(v ir.IRValue) lua.LValue {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return lua.LNil
	case ir.IRBool:
		return lua.LBool(val)
	case ir.IRInt:
		return lua.LNumber(val)
	case ir.IRString:
		return lua.LString(val)
	case ir.IRArray:
		t := s.L.CreateTable(len(val), 0)
		for i, e := range val {
			t.RawSetInt(i+1, s.toLua(e))
		}
		s.L.SetMetatable(t, s.arrayMeta)
		return t
	case ir.IRObject:
		t := s.L.CreateTable(0, len(val))
		for _, k := range val.SortedKeys() {
			t.RawSetString(k, s.toLua(val[k]))
		}
		return t
	default:
		return lua.LNil
	}
}

const maxDepth = 64

func (s *Script) fromLua(lv lua.LValue, depth int) (ir.IRValue, error) {
	if depth > maxDepth {
		return nil, errors.New("table nesting too deep")
	}
	switch v := lv.(type) {
	case *lua.LNilType:
		return ir.IRNull{}, nil
	case lua.LBool:
		return ir.IRBool(v), nil
	case lua.LString:
		return ir.IRString(v), nil
	case lua.LNumber:
		f := float64(v)
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, fmt.Errorf("number %v is not an integer", f)
		}
		return ir.IRInt(int64(f)), nil
	case *lua.LTable:
		return s.tableFromLua(v, depth)
	default:
		return nil, fmt.Errorf("cannot convert lua %s", lv.Type())
	}
}

func (s *Script) tableFromLua(t *lua.LTable, depth int) (ir.IRValue, error) {
	var (
		strKeys []string
		intKeys int
		maxN    int
		badKey  lua.LValue
	)
	t.ForEach(func(k, _ lua.LValue) {
		switch kv := k.(type) {
		case lua.LString:
			strKeys = append(strKeys, string(kv))
		case lua.LNumber:
			n := int(kv)
			if float64(n) != float64(kv) || n < 1 {
				badKey = k
				return
			}
			intKeys++
			if n > maxN {
				maxN = n
			}
		default:
			badKey = k
		}
	})
	if badKey != nil {
		return nil, fmt.Errorf("unsupported table key %s", badKey.String())
	}
	if len(strKeys) > 0 && intKeys > 0 {
		return nil, errors.New("table mixes array and object keys")
	}

	marked := s.L.GetMetatable(t) == s.arrayMeta
	if marked || intKeys > 0 {
		arr := make(ir.IRArray, maxN)
		for i := 1; i <= maxN; i++ {
			e, err := s.fromLua(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr[i-1] = e
		}
		return arr, nil
	}

	sort.Strings(strKeys)
	obj := make(ir.IRObject, len(strKeys))
	for _, k := range strKeys {
		e, err := s.fromLua(t.RawGetString(k), depth+1)
		if err != nil {
			return nil, err
		}
		obj[k] = e
	}
	return obj, nil
}
