// Package interceptor runs an event through an ordered chain of
// before/after stages.
//
// Execution walks the queue front to back calling Before, pushing each
// interceptor onto the stack, then pops the stack calling After. So a chain
// [A B C] runs A.Before, B.Before, C.Before, C.After, B.After, A.After.
// Stages may rewrite the remaining queue to add or drop interceptors.
package interceptor

import (
	"errors"
	"fmt"

	"github.com/roach88/domino/internal/ir"
)

// Coeffect and effect keys with built-in meaning.
const (
	CoeffectEvent         = "event"
	CoeffectOriginalEvent = "original-event"
	CoeffectDB            = "db"
	EffectDB              = "db"
)

// Phase names a stage direction.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Stage transforms the context. A nil stage is the identity.
type Stage func(ctx *Context) error

// Interceptor is a named pair of optional stages.
type Interceptor struct {
	ID     string
	Before Stage
	After  Stage
}

// Context is the value threaded through a chain.
type Context struct {
	Coeffects ir.IRObject
	Effects   ir.IRObject

	// Err is set while after stages unwind a failed before phase.
	Err error

	// Suppressed holds after-stage errors raised while unwinding Err.
	// Execute still returns Err.
	Suppressed []*StageError

	queue []*Interceptor
	stack []*Interceptor
}

// Event returns the event coeffect as currently shaped by the chain.
func (c *Context) Event() ir.IRValue {
	return c.Coeffects[CoeffectEvent]
}

// SetEvent replaces the event coeffect.
func (c *Context) SetEvent(v ir.IRValue) {
	c.Coeffects[CoeffectEvent] = v
}

// OriginalEvent returns the event as dispatched.
func (c *Context) OriginalEvent() ir.IRValue {
	return c.Coeffects[CoeffectOriginalEvent]
}

// DB returns the db coeffect.
func (c *Context) DB() ir.IRValue {
	return c.Coeffects[CoeffectDB]
}

// Effect returns an effect value.
func (c *Context) Effect(key string) (ir.IRValue, bool) {
	v, ok := c.Effects[key]
	return v, ok
}

// SetEffect sets an effect value.
func (c *Context) SetEffect(key string, v ir.IRValue) {
	c.Effects[key] = v
}

// NewDB returns the db effect if one is set, else the db coeffect.
func (c *Context) NewDB() ir.IRValue {
	if v, ok := c.Effects[EffectDB]; ok {
		return v
	}
	return c.DB()
}

// Queue returns the interceptors still to be entered.
func (c *Context) Queue() []*Interceptor {
	return c.queue
}

// SetQueue replaces the interceptors still to be entered.
func (c *Context) SetQueue(q []*Interceptor) {
	c.queue = q
}

// Enqueue appends interceptors to the remaining queue.
func (c *Context) Enqueue(ics ...*Interceptor) {
	c.queue = append(c.queue, ics...)
}

// Stack returns the entered interceptors, innermost last.
func (c *Context) Stack() []*Interceptor {
	return c.stack
}

// StageError reports a failing or panicking stage.
type StageError struct {
	EventID       string
	InterceptorID string
	Phase         Phase
	Err           error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("event %q: interceptor %q %s: %v", e.EventID, e.InterceptorID, e.Phase, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Option seeds the context before execution.
type Option func(*Context)

// WithCoeffect sets an initial coeffect.
func WithCoeffect(key string, v ir.IRValue) Option {
	return func(c *Context) {
		c.Coeffects[key] = v
	}
}

// Execute runs ev through chain and returns the final context.
//
// A Before error stops the before phase; the interceptors already entered
// then unwind through their After stages with Context.Err set, and the
// original error is returned. An After error stops the remaining after
// stages. Panics are recovered into *StageError.
func Execute(ev ir.Event, chain []*Interceptor, opts ...Option) (*Context, error) {
	vec := ev.Vector()
	ctx := &Context{
		Coeffects: ir.IRObject{
			CoeffectEvent:         vec,
			CoeffectOriginalEvent: vec,
		},
		Effects: ir.IRObject{},
		queue:   append([]*Interceptor(nil), chain...),
	}
	for _, opt := range opts {
		opt(ctx)
	}

	for len(ctx.queue) > 0 {
		ic := ctx.queue[0]
		ctx.queue = ctx.queue[1:]
		ctx.stack = append(ctx.stack, ic)

		if err := runStage(ev.ID, ic, PhaseBefore, ic.Before, ctx); err != nil {
			ctx.queue = nil
			ctx.Err = err
			unwind(ev.ID, ctx)
			return ctx, err
		}
	}

	if err := unwind(ev.ID, ctx); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// unwind pops the stack running After stages. Stops at the first error
// unless the context is already failing, in which case later errors are
// collected in Suppressed and the unwind carries on.
func unwind(eventID string, ctx *Context) error {
	for len(ctx.stack) > 0 {
		n := len(ctx.stack) - 1
		ic := ctx.stack[n]
		ctx.stack = ctx.stack[:n]

		if err := runStage(eventID, ic, PhaseAfter, ic.After, ctx); err != nil {
			if ctx.Err != nil {
				var se *StageError
				if errors.As(err, &se) {
					ctx.Suppressed = append(ctx.Suppressed, se)
				}
				continue
			}
			ctx.stack = nil
			return err
		}
	}
	return nil
}

func runStage(eventID string, ic *Interceptor, phase Phase, stage Stage, ctx *Context) (err error) {
	if stage == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{EventID: eventID, InterceptorID: ic.ID, Phase: phase, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := stage(ctx); err != nil {
		return &StageError{EventID: eventID, InterceptorID: ic.ID, Phase: phase, Err: err}
	}
	return nil
}

// Flatten concatenates chains. A nil interceptor is an error.
func Flatten(chains ...[]*Interceptor) ([]*Interceptor, error) {
	var out []*Interceptor
	for _, chain := range chains {
		for _, ic := range chain {
			if ic == nil {
				return nil, fmt.Errorf("interceptor at position %d is nil", len(out))
			}
			out = append(out, ic)
		}
	}
	return out, nil
}
