package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/domino/internal/ir"
)

// CompileProgram converts a CUE value into an ir.Program.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is first unified with the #Program schema, so structural
// mistakes (unknown fields, wrong kinds, unknown op names) are reported
// with their CUE position. Semantic checks are left to Validate.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`name: "counter", event: increment: {ops: [{op: "inc", path: "count"}]}`)
//	p, err := CompileProgram(v)
func CompileProgram(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema, err := programSchema(v.Context())
	if err != nil {
		return nil, err
	}
	checked := v.Unify(schema)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	p := &ir.Program{
		Events: make(map[string]ir.EventSpec),
		Subs:   make(map[string]ir.SubSpec),
	}

	if p.Name, err = checked.LookupPath(cue.ParsePath("name")).String(); err != nil {
		return nil, formatCUEError(err)
	}

	p.DB = ir.IRObject{}
	if dbVal := checked.LookupPath(cue.ParsePath("db")); dbVal.Exists() {
		if p.DB, err = toIR(dbVal); err != nil {
			return nil, err
		}
	}

	if p.Init, err = compileInit(checked.LookupPath(cue.ParsePath("init"))); err != nil {
		return nil, err
	}

	iter, err := checked.LookupPath(cue.ParsePath("event")).Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		id := iter.Selector().Unquoted()
		spec, err := compileEvent(id, iter.Value())
		if err != nil {
			return nil, err
		}
		p.Events[id] = spec
	}

	if subVal := checked.LookupPath(cue.ParsePath("sub")); subVal.Exists() {
		iter, err := subVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			id := iter.Selector().Unquoted()
			path, err := iter.Value().LookupPath(cue.ParsePath("path")).String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			p.Subs[id] = ir.SubSpec{ID: id, Path: path}
		}
	}

	return p, nil
}

func compileInit(v cue.Value) ([]ir.Event, error) {
	if !v.Exists() {
		return nil, nil
	}
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var events []ir.Event
	for i := 0; list.Next(); i++ {
		raw, err := toIR(list.Value())
		if err != nil {
			return nil, err
		}
		ev, err := ir.ParseEvent(raw)
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("init[%d]", i),
				Message: err.Error(),
				Pos:     list.Value().Pos(),
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// compileEvent parses one entry of the event struct.
func compileEvent(id string, v cue.Value) (ir.EventSpec, error) {
	spec := ir.EventSpec{ID: id}
	var err error

	if spec.Kind, err = v.LookupPath(cue.ParsePath("kind")).String(); err != nil {
		return spec, formatCUEError(err)
	}

	if opsVal := v.LookupPath(cue.ParsePath("ops")); opsVal.Exists() {
		list, err := opsVal.List()
		if err != nil {
			return spec, formatCUEError(err)
		}
		for list.Next() {
			op, err := compileOp(list.Value())
			if err != nil {
				return spec, err
			}
			spec.Ops = append(spec.Ops, op)
		}
	}

	if luaVal := v.LookupPath(cue.ParsePath("lua")); luaVal.Exists() {
		if spec.Lua, err = luaVal.String(); err != nil {
			return spec, formatCUEError(err)
		}
	}

	if fxVal := v.LookupPath(cue.ParsePath("fx")); fxVal.Exists() {
		raw, err := toIR(fxVal)
		if err != nil {
			return spec, err
		}
		spec.Fx = raw.(ir.IRObject)
	}

	if icVal := v.LookupPath(cue.ParsePath("interceptors")); icVal.Exists() {
		list, err := icVal.List()
		if err != nil {
			return spec, formatCUEError(err)
		}
		for list.Next() {
			name, err := list.Value().String()
			if err != nil {
				return spec, formatCUEError(err)
			}
			spec.Interceptors = append(spec.Interceptors, name)
		}
	}

	return spec, nil
}

func compileOp(v cue.Value) (ir.Op, error) {
	var (
		op  ir.Op
		err error
	)
	if op.Op, err = v.LookupPath(cue.ParsePath("op")).String(); err != nil {
		return op, formatCUEError(err)
	}
	if op.Path, err = v.LookupPath(cue.ParsePath("path")).String(); err != nil {
		return op, formatCUEError(err)
	}
	if val := v.LookupPath(cue.ParsePath("value")); val.Exists() {
		if op.Value, err = toIR(val); err != nil {
			return op, err
		}
	}
	if by := v.LookupPath(cue.ParsePath("by")); by.Exists() {
		if op.By, err = by.Int64(); err != nil {
			return op, formatCUEError(err)
		}
	}
	if arg := v.LookupPath(cue.ParsePath("arg")); arg.Exists() {
		n, err := arg.Int64()
		if err != nil {
			return op, formatCUEError(err)
		}
		i := int(n)
		op.Arg = &i
	}
	return op, nil
}

// toIR converts a concrete CUE value to an IRValue.
// Floats are rejected; programs use integers only.
func toIR(v cue.Value) (ir.IRValue, error) {
	if d, ok := v.Default(); ok {
		v = d
	}
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: "value", Message: "integer out of int64 range", Pos: v.Pos()}
		}
		return ir.IRInt(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for list.Next() {
			e, err := toIR(list.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, e)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			e, err := toIR(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Selector().Unquoted()] = e
		}
		return obj, nil
	case cue.FloatKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "floats are not supported, use int",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("value must be concrete data, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	field := "cue"
	if path := errors.Path(firstErr); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   field,
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
