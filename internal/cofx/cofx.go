// Package cofx registers coeffect handlers and builds the interceptors that
// inject them into an event's context.
package cofx

import (
	"fmt"

	"github.com/roach88/domino/internal/appdb"
	"github.com/roach88/domino/internal/interceptor"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/registrar"
)

// InterceptorID is shared by every coeffect injector.
const InterceptorID = "coeffects"

// Handler adds values to the coeffects map. arg is IRNull when the
// injector was built without one.
type Handler func(cofx ir.IRObject, arg ir.IRValue) ir.IRObject

// Reg registers h as the coeffect handler for id.
func Reg(reg *registrar.Registrar, id string, h Handler) error {
	return reg.Register(registrar.KindCofx, id, h)
}

// Inject returns an interceptor that applies the coeffect handler for id.
// The handler is looked up each time the interceptor runs, so it may be
// registered after the event that uses it.
func Inject(reg *registrar.Registrar, id string, arg ir.IRValue) *interceptor.Interceptor {
	if arg == nil {
		arg = ir.IRNull{}
	}
	return &interceptor.Interceptor{
		ID: InterceptorID,
		Before: func(ctx *interceptor.Context) error {
			h, err := reg.Get(registrar.KindCofx, id, true)
			if err != nil {
				return err
			}
			handler, ok := h.(Handler)
			if !ok {
				return fmt.Errorf("coeffect %q: unexpected handler type %T", id, h)
			}
			out := handler(ctx.Coeffects, arg)
			if out == nil {
				return fmt.Errorf("coeffect %q returned nil coeffects", id)
			}
			ctx.Coeffects = out
			return nil
		},
	}
}

// InjectDB returns the interceptor that puts the current app-db value into
// coeffects. Every event chain starts with it.
func InjectDB(db *appdb.DB) *interceptor.Interceptor {
	return &interceptor.Interceptor{
		ID: InterceptorID,
		Before: func(ctx *interceptor.Context) error {
			ctx.Coeffects[interceptor.CoeffectDB] = db.Read()
			return nil
		},
	}
}

// With returns a copy of cofx with key set to v. Handlers use it to avoid
// mutating the map they were given.
func With(cofx ir.IRObject, key string, v ir.IRValue) ir.IRObject {
	out := make(ir.IRObject, len(cofx)+1)
	for k, e := range cofx {
		out[k] = e
	}
	out[key] = v
	return out
}
