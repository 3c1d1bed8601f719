package interceptor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/domino/internal/ir"
)

// Handler interceptor ids.
const (
	IDDBHandler  = "db-handler"
	IDFxHandler  = "fx-handler"
	IDCtxHandler = "ctx-handler"
)

// Coeffect keys used by std interceptors to stash state between stages.
const (
	untrimmedEvent = "untrimmed-event"
	unwrappedEvent = "unwrapped-event"
	pathDBStack    = "path-db-stack"
)

// DBHandlerFunc computes a new db from the current db and event.
type DBHandlerFunc func(db, event ir.IRValue) ir.IRValue

// FxHandlerFunc computes an effects map from coeffects and event.
type FxHandlerFunc func(cofx ir.IRObject, event ir.IRValue) (ir.IRObject, error)

// CtxHandlerFunc works on the whole context.
type CtxHandlerFunc func(ctx *Context) error

// DBHandler wraps a db handler as the terminal interceptor. Its result
// becomes the db effect.
func DBHandler(h DBHandlerFunc) *Interceptor {
	return &Interceptor{
		ID: IDDBHandler,
		Before: func(ctx *Context) error {
			ctx.SetEffect(EffectDB, h(ctx.DB(), ctx.Event()))
			return nil
		},
	}
}

// FxHandler wraps an fx handler as the terminal interceptor. Its result
// replaces the effects map.
func FxHandler(h FxHandlerFunc) *Interceptor {
	return &Interceptor{
		ID: IDFxHandler,
		Before: func(ctx *Context) error {
			fx, err := h(ctx.Coeffects, ctx.Event())
			if err != nil {
				return err
			}
			if fx == nil {
				fx = ir.IRObject{}
			}
			ctx.Effects = fx
			return nil
		},
	}
}

// CtxHandler wraps a context handler as the terminal interceptor.
func CtxHandler(h CtxHandlerFunc) *Interceptor {
	return &Interceptor{ID: IDCtxHandler, Before: Stage(h)}
}

// Debug logs each event and whether its handler changed the db.
func Debug(logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		ID: "debug",
		Before: func(ctx *Context) error {
			logger.Debug("handling event", "event", render(ctx.Event()))
			return nil
		},
		After: func(ctx *Context) error {
			newDB, ok := ctx.Effect(EffectDB)
			if !ok || ir.Same(newDB, ctx.DB()) {
				logger.Debug("no app-db changes", "event", render(ctx.Event()))
				return nil
			}
			logger.Debug("app-db changed",
				"event", render(ctx.Event()),
				"before", ir.StateHash(ctx.DB()),
				"after", ir.StateHash(newDB),
			)
			return nil
		},
	}
}

// TrimV drops the event id so the handler sees only the payload vector.
// The full event is restored on the way out.
func TrimV() *Interceptor {
	return &Interceptor{
		ID: "trim-v",
		Before: func(ctx *Context) error {
			vec, ok := ctx.Event().(ir.IRArray)
			if !ok || len(vec) == 0 {
				return fmt.Errorf("expected event vector, got %s", ir.TypeName(ctx.Event()))
			}
			ctx.Coeffects[untrimmedEvent] = vec
			ctx.SetEvent(vec[1:])
			return nil
		},
		After: func(ctx *Context) error {
			if orig, ok := ctx.Coeffects[untrimmedEvent]; ok {
				ctx.SetEvent(orig)
				delete(ctx.Coeffects, untrimmedEvent)
			}
			return nil
		},
	}
}

// Unwrap hands the handler the first payload element, which must be an
// object, in place of the event vector.
func Unwrap() *Interceptor {
	return &Interceptor{
		ID: "unwrap",
		Before: func(ctx *Context) error {
			vec, ok := ctx.Event().(ir.IRArray)
			if !ok || len(vec) != 2 {
				return errors.New("unwrap expects an event of the form [id payload]")
			}
			obj, ok := vec[1].(ir.IRObject)
			if !ok {
				return fmt.Errorf("unwrap expects an object payload, got %s", ir.TypeName(vec[1]))
			}
			ctx.Coeffects[unwrappedEvent] = vec
			ctx.SetEvent(obj)
			return nil
		},
		After: func(ctx *Context) error {
			if orig, ok := ctx.Coeffects[unwrappedEvent]; ok {
				ctx.SetEvent(orig)
				delete(ctx.Coeffects, unwrappedEvent)
			}
			return nil
		},
	}
}

// Path focuses the handler's db onto the sub-tree at keys and grafts the
// handler's result back into the full db. Path interceptors nest.
func Path(keys ...string) *Interceptor {
	if len(keys) == 0 {
		panic("interceptor.Path: at least one key is required")
	}
	path := append([]string(nil), keys...)
	return &Interceptor{
		ID: "path",
		Before: func(ctx *Context) error {
			full := ctx.DB()
			stack, _ := ctx.Coeffects[pathDBStack].(ir.IRArray)
			ctx.Coeffects[pathDBStack] = append(append(ir.IRArray(nil), stack...), full)
			sub, ok := ir.GetIn(full, path...)
			if !ok {
				sub = ir.IRNull{}
			}
			ctx.Coeffects[CoeffectDB] = sub
			return nil
		},
		After: func(ctx *Context) error {
			stack, _ := ctx.Coeffects[pathDBStack].(ir.IRArray)
			if len(stack) == 0 {
				return nil
			}
			full := stack[len(stack)-1]
			if len(stack) == 1 {
				delete(ctx.Coeffects, pathDBStack)
			} else {
				ctx.Coeffects[pathDBStack] = stack[:len(stack)-1]
			}
			ctx.Coeffects[CoeffectDB] = full
			if sub, ok := ctx.Effect(EffectDB); ok {
				ctx.SetEffect(EffectDB, ir.AssocIn(full, path, sub))
			}
			return nil
		},
	}
}

// Enrich post-processes the new db with f. A nil result keeps the db as is.
func Enrich(f func(db, event ir.IRValue) ir.IRValue) *Interceptor {
	return &Interceptor{
		ID: "enrich",
		After: func(ctx *Context) error {
			_, hasDB := ctx.Effect(EffectDB)
			if !hasDB {
				return nil
			}
			if out := f(ctx.NewDB(), ctx.Event()); out != nil {
				ctx.SetEffect(EffectDB, out)
			}
			return nil
		},
	}
}

// After calls f with the new db and event for its side effects only.
func After(f func(db, event ir.IRValue)) *Interceptor {
	return &Interceptor{
		ID: "after",
		After: func(ctx *Context) error {
			f(ctx.NewDB(), ctx.Event())
			return nil
		},
	}
}

// OnChanges recomputes out from the values at inputs whenever any of them
// changed, and stores the result at out in the new db.
func OnChanges(f func(args ...ir.IRValue) ir.IRValue, out []string, inputs ...[]string) *Interceptor {
	return &Interceptor{
		ID: "on-changes",
		After: func(ctx *Context) error {
			newDB, ok := ctx.Effect(EffectDB)
			if !ok {
				return nil
			}
			oldDB := ctx.DB()
			changed := false
			args := make([]ir.IRValue, len(inputs))
			for i, p := range inputs {
				nv, _ := ir.GetIn(newDB, p...)
				ov, _ := ir.GetIn(oldDB, p...)
				if !ir.Same(nv, ov) {
					changed = true
				}
				args[i] = nv
			}
			if changed {
				ctx.SetEffect(EffectDB, ir.AssocIn(newDB, out, f(args...)))
			}
			return nil
		},
	}
}

func render(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
