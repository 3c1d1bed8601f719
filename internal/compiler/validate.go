package compiler

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/domino/internal/fx"
	"github.com/roach88/domino/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrProgramNameEmpty   = "E201" // name is required
	ErrNoEvents           = "E202" // at least one event required
	ErrEmptyHandler       = "E203" // event declares no ops, lua or fx
	ErrUnknownKind        = "E204" // kind is not db or fx
	ErrUnknownOp          = "E205" // op name not recognised
	ErrInvalidOperand     = "E206" // op value/by/arg combination invalid
	ErrUnknownInterceptor = "E207" // interceptor name not recognised
	ErrInvalidLua         = "E208" // lua does not parse or lacks handle
	ErrUnknownEventRef    = "E209" // init or static fx names an undeclared event
	ErrMalformedEffect    = "E210" // static dispatch effect is malformed
	ErrStaticDB           = "E211" // db-kind event sets db in static fx
	ErrInvalidID          = "E212" // event or sub id has an invalid form
	ErrEmptyPath          = "E213" // op path empty
)

// ValidationError represents a program validation error.
type ValidationError struct {
	Field   string    `json:"field"`
	Message string    `json:"message"`
	Code    string    `json:"code"`
	Line    int       `json:"line,omitempty"`
	Pos     token.Pos `json:"-"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: [%s] %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Field, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// idPattern is the accepted form of event and sub ids.
var idPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_./-]*$`)

// Validate checks a compiled program.
// Returns all errors found (does not fail-fast), ordered by field.
func Validate(p *ir.Program) []ValidationError {
	var errs []ValidationError
	add := func(code, message string, sels ...cue.Selector) {
		errs = append(errs, ValidationError{Field: fieldPath(sels...), Message: message, Code: code})
	}

	if strings.TrimSpace(p.Name) == "" {
		add(ErrProgramNameEmpty, "name is required and must be non-empty", cue.Str("name"))
	}
	if len(p.Events) == 0 {
		add(ErrNoEvents, "at least one event is required", cue.Str("event"))
	}

	for i, ev := range p.Init {
		if _, ok := p.Events[ev.ID]; !ok {
			add(ErrUnknownEventRef, fmt.Sprintf("init dispatches undeclared event %q", ev.ID), cue.Str("init"), cue.Index(i))
		}
	}

	for _, id := range sortedKeys(p.Events) {
		errs = append(errs, validateEvent(p, id, p.Events[id])...)
	}

	for _, id := range sortedKeys(p.Subs) {
		if !idPattern.MatchString(id) {
			add(ErrInvalidID, fmt.Sprintf("invalid sub id %q", id), cue.Str("sub"), cue.Str(id))
		}
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

func validateEvent(p *ir.Program, id string, spec ir.EventSpec) []ValidationError {
	var errs []ValidationError
	add := func(code, message string, sels ...cue.Selector) {
		full := append([]cue.Selector{cue.Str("event"), cue.Str(id)}, sels...)
		errs = append(errs, ValidationError{Field: fieldPath(full...), Message: message, Code: code})
	}

	if !idPattern.MatchString(id) {
		add(ErrInvalidID, fmt.Sprintf("invalid event id %q", id))
	}

	switch spec.Kind {
	case ir.KindDB, ir.KindFx:
	default:
		add(ErrUnknownKind, fmt.Sprintf("kind %q must be %q or %q", spec.Kind, ir.KindDB, ir.KindFx), cue.Str("kind"))
	}

	if len(spec.Ops) == 0 && spec.Lua == "" && len(spec.Fx) == 0 {
		add(ErrEmptyHandler, "event must declare ops, lua or fx")
	}

	for i, op := range spec.Ops {
		at := func(field string) []cue.Selector {
			sels := []cue.Selector{cue.Str("ops"), cue.Index(i)}
			if field != "" {
				sels = append(sels, cue.Str(field))
			}
			return sels
		}
		if op.Path == "" {
			add(ErrEmptyPath, "path must be non-empty", at("path")...)
		}
		switch op.Op {
		case ir.OpSet, ir.OpAppend:
			if op.Value == nil && op.Arg == nil {
				add(ErrInvalidOperand, fmt.Sprintf("%s needs value or arg", op.Op), at("")...)
			}
			if op.Value != nil && op.Arg != nil {
				add(ErrInvalidOperand, "value and arg are mutually exclusive", at("")...)
			}
			if op.By != 0 {
				add(ErrInvalidOperand, fmt.Sprintf("by is only valid for %s", ir.OpInc), at("by")...)
			}
		case ir.OpInc:
			if op.Value != nil {
				add(ErrInvalidOperand, "inc takes by or arg, not value", at("value")...)
			}
			if op.By != 0 && op.Arg != nil {
				add(ErrInvalidOperand, "by and arg are mutually exclusive", at("")...)
			}
		case ir.OpDelete:
			if op.Value != nil || op.Arg != nil || op.By != 0 {
				add(ErrInvalidOperand, "delete takes no operand", at("")...)
			}
		default:
			add(ErrUnknownOp, fmt.Sprintf("unknown op %q", op.Op), at("op")...)
		}
		if op.Arg != nil && *op.Arg < 0 {
			add(ErrInvalidOperand, "arg must be non-negative", at("arg")...)
		}
	}

	for i, name := range spec.Interceptors {
		if !slices.Contains(ir.KnownInterceptors, name) {
			add(ErrUnknownInterceptor, fmt.Sprintf("unknown interceptor %q (known: %s)", name, strings.Join(ir.KnownInterceptors, ", ")),
				cue.Str("interceptors"), cue.Index(i))
		}
	}

	if spec.Lua != "" {
		if line, err := checkLua(id, spec.Lua); err != nil {
			errs = append(errs, ValidationError{
				Field:   fieldPath(cue.Str("event"), cue.Str(id), cue.Str("lua")),
				Message: err.Error(),
				Code:    ErrInvalidLua,
				Line:    line,
			})
		}
	}

	if _, ok := spec.Fx[fx.EffectDB]; ok && spec.Kind == ir.KindDB {
		add(ErrStaticDB, "db-kind events compute db; remove it from fx", cue.Str("fx"), cue.Str(fx.EffectDB))
	}

	refs, problems := staticDispatches(spec.Fx)
	for _, pr := range problems {
		add(ErrMalformedEffect, fmt.Sprintf("%s: %s", pr.Field, pr.Event), cue.Str("fx"), cue.Str(pr.Key))
	}
	for _, ref := range refs {
		if _, ok := p.Events[ref.Event]; !ok {
			add(ErrUnknownEventRef, fmt.Sprintf("%s dispatches undeclared event %q", ref.Field, ref.Event), cue.Str("fx"), cue.Str(ref.Key))
		}
	}

	return errs
}

// ValidateSource is Validate with CUE source positions attached where the
// field can be found in src.
func ValidateSource(p *ir.Program, src cue.Value) []ValidationError {
	errs := Validate(p)
	for i := range errs {
		if v := src.LookupPath(cue.ParsePath(errs[i].Field)); v.Exists() {
			errs[i].Pos = v.Pos()
		}
	}
	return errs
}

func fieldPath(sels ...cue.Selector) string {
	return cue.MakePath(sels...).String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
