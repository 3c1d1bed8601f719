package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
)

func intp(i int) *int { return &i }

func validProgram() *ir.Program {
	return &ir.Program{
		Name: "counter",
		DB:   ir.Obj(ir.O("count", ir.IRInt(0))),
		Init: []ir.Event{ir.NewEvent("increment")},
		Events: map[string]ir.EventSpec{
			"increment": {ID: "increment", Kind: ir.KindDB, Ops: []ir.Op{{Op: ir.OpInc, Path: "count"}}},
			"bump": {
				ID:   "bump",
				Kind: ir.KindFx,
				Fx:   ir.Obj(ir.O("dispatch", ir.Arr(ir.IRString("increment")))),
			},
		},
		Subs: map[string]ir.SubSpec{"count": {ID: "count", Path: "count"}},
	}
}

func TestValidate_ValidProgram(t *testing.T) {
	assert.Empty(t, Validate(validProgram()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ir.Program)
		code   string
		field  string
	}{
		{
			name:   "empty name",
			mutate: func(p *ir.Program) { p.Name = " " },
			code:   ErrProgramNameEmpty,
			field:  "name",
		},
		{
			name:   "no events",
			mutate: func(p *ir.Program) { p.Events = nil; p.Init = nil },
			code:   ErrNoEvents,
			field:  "event",
		},
		{
			name:   "empty handler",
			mutate: func(p *ir.Program) { p.Events["noop"] = ir.EventSpec{ID: "noop", Kind: ir.KindDB} },
			code:   ErrEmptyHandler,
			field:  "event.noop",
		},
		{
			name: "unknown kind",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: "sub", Ops: []ir.Op{{Op: ir.OpInc, Path: "n"}}}
			},
			code:  ErrUnknownKind,
			field: "event.x.kind",
		},
		{
			name: "unknown op",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: ir.KindDB, Ops: []ir.Op{{Op: "multiply", Path: "n"}}}
			},
			code:  ErrUnknownOp,
			field: "event.x.ops[0].op",
		},
		{
			name: "set without operand",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: ir.KindDB, Ops: []ir.Op{{Op: ir.OpSet, Path: "n"}}}
			},
			code:  ErrInvalidOperand,
			field: "event.x.ops[0]",
		},
		{
			name: "inc with value",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: ir.KindDB, Ops: []ir.Op{{Op: ir.OpInc, Path: "n", Value: ir.IRInt(1)}}}
			},
			code:  ErrInvalidOperand,
			field: "event.x.ops[0].value",
		},
		{
			name: "delete with arg",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: ir.KindDB, Ops: []ir.Op{{Op: ir.OpDelete, Path: "n", Arg: intp(0)}}}
			},
			code:  ErrInvalidOperand,
			field: "event.x.ops[0]",
		},
		{
			name: "empty op path",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: ir.KindDB, Ops: []ir.Op{{Op: ir.OpInc}}}
			},
			code:  ErrEmptyPath,
			field: "event.x.ops[0].path",
		},
		{
			name: "unknown interceptor",
			mutate: func(p *ir.Program) {
				spec := p.Events["increment"]
				spec.Interceptors = []string{"trim-v", "path"}
				p.Events["increment"] = spec
			},
			code:  ErrUnknownInterceptor,
			field: "event.increment.interceptors[1]",
		},
		{
			name: "lua syntax error",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: ir.KindDB, Lua: "function handle(db"}
			},
			code:  ErrInvalidLua,
			field: "event.x.lua",
		},
		{
			name: "lua without handle",
			mutate: func(p *ir.Program) {
				p.Events["x"] = ir.EventSpec{ID: "x", Kind: ir.KindDB, Lua: "local function handle(db) return db end"}
			},
			code:  ErrInvalidLua,
			field: "event.x.lua",
		},
		{
			name:   "init names undeclared event",
			mutate: func(p *ir.Program) { p.Init = append(p.Init, ir.NewEvent("missing")) },
			code:   ErrUnknownEventRef,
			field:  "init[1]",
		},
		{
			name: "static dispatch to undeclared event",
			mutate: func(p *ir.Program) {
				p.Events["bump"] = ir.EventSpec{ID: "bump", Kind: ir.KindFx,
					Fx: ir.Obj(ir.O("dispatch-n", ir.Arr(ir.Arr(ir.IRString("increment")), ir.Arr(ir.IRString("nope")))))}
			},
			code:  ErrUnknownEventRef,
			field: `event.bump.fx."dispatch-n"`,
		},
		{
			name: "malformed dispatch-later",
			mutate: func(p *ir.Program) {
				p.Events["bump"] = ir.EventSpec{ID: "bump", Kind: ir.KindFx,
					Fx: ir.Obj(ir.O("dispatch-later", ir.Obj(ir.O("ms", ir.IRString("bad")), ir.O("dispatch", ir.Arr(ir.IRString("increment"))))))}
			},
			code:  ErrMalformedEffect,
			field: `event.bump.fx."dispatch-later"`,
		},
		{
			name: "db in static fx of db event",
			mutate: func(p *ir.Program) {
				spec := p.Events["increment"]
				spec.Fx = ir.Obj(ir.O("db", ir.IRObject{}))
				p.Events["increment"] = spec
			},
			code:  ErrStaticDB,
			field: "event.increment.fx.db",
		},
		{
			name: "invalid event id",
			mutate: func(p *ir.Program) {
				p.Events["has space"] = ir.EventSpec{ID: "has space", Kind: ir.KindDB, Ops: []ir.Op{{Op: ir.OpInc, Path: "n"}}}
			},
			code:  ErrInvalidID,
			field: `event."has space"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProgram()
			tt.mutate(p)
			errs := Validate(p)
			require.Len(t, errs, 1, "errors: %v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	p := validProgram()
	p.Name = ""
	p.Init = append(p.Init, ir.NewEvent("missing"))
	p.Events["x"] = ir.EventSpec{ID: "x", Kind: "nope"}

	errs := Validate(p)
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.ElementsMatch(t, []string{ErrProgramNameEmpty, ErrUnknownEventRef, ErrUnknownKind, ErrEmptyHandler}, codes)
}

func TestValidationError_Format(t *testing.T) {
	assert.Equal(t, "[E201] name: required", ValidationError{Code: "E201", Field: "name", Message: "required"}.Error())
	assert.Equal(t, "[E208] line 3: event.x.lua: bad", ValidationError{Code: "E208", Field: "event.x.lua", Message: "bad", Line: 3}.Error())
}
