package fx

import (
	"errors"
	"time"

	"github.com/roach88/domino/internal/appdb"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/registrar"
)

// Built-in effect ids.
const (
	EffectDB            = "db"
	EffectDispatch      = "dispatch"
	EffectDispatchN     = "dispatch-n"
	EffectDispatchLater = "dispatch-later"
	EffectDeregister    = "deregister-event-handler"
)

// Runtime is what the built-in effects act on.
type Runtime interface {
	AppDB() *appdb.DB
	// Dispatch queues ev as a child of the event being handled.
	Dispatch(ev ir.Event) error
	// DispatchLater queues ev after d. Fire-and-forget.
	DispatchLater(d time.Duration, ev ir.Event)
	// ClearEvent removes an event handler.
	ClearEvent(id string)
}

// RegisterBuiltins registers db, dispatch, dispatch-n, dispatch-later and
// deregister-event-handler against rt.
func RegisterBuiltins(reg *registrar.Registrar, rt Runtime) error {
	builtins := map[string]Handler{
		EffectDB: func(v ir.IRValue) error {
			rt.AppDB().Reset(v)
			return nil
		},
		EffectDispatch: func(v ir.IRValue) error {
			ev, err := ir.ParseEvent(v)
			if err != nil {
				return malformed("dispatch: %v", err)
			}
			return rt.Dispatch(ev)
		},
		EffectDispatchN: func(v ir.IRValue) error {
			list, ok := v.(ir.IRArray)
			if !ok {
				return malformed("dispatch-n: expected array of events, got %s", ir.TypeName(v))
			}
			var errs []error
			for i, elem := range list {
				if ir.IsNull(elem) {
					continue
				}
				ev, err := ir.ParseEvent(elem)
				if err != nil {
					errs = append(errs, malformed("dispatch-n[%d]: %v", i, err))
					continue
				}
				if err := rt.Dispatch(ev); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
		EffectDispatchLater: func(v ir.IRValue) error {
			entries, ok := v.(ir.IRArray)
			if !ok {
				entries = ir.IRArray{v}
			}
			var errs []error
			for i, entry := range entries {
				if ir.IsNull(entry) {
					continue
				}
				d, ev, err := parseLater(entry)
				if err != nil {
					errs = append(errs, malformed("dispatch-later[%d]: %v", i, err))
					continue
				}
				rt.DispatchLater(d, ev)
			}
			return errors.Join(errs...)
		},
		EffectDeregister: func(v ir.IRValue) error {
			switch val := v.(type) {
			case ir.IRString:
				rt.ClearEvent(string(val))
				return nil
			case ir.IRArray:
				for i, elem := range val {
					id, ok := elem.(ir.IRString)
					if !ok {
						return malformed("deregister-event-handler[%d]: expected string id, got %s", i, ir.TypeName(elem))
					}
					rt.ClearEvent(string(id))
				}
				return nil
			default:
				return malformed("deregister-event-handler: expected id or array of ids, got %s", ir.TypeName(v))
			}
		},
	}
	for _, id := range []string{EffectDB, EffectDispatch, EffectDispatchN, EffectDispatchLater, EffectDeregister} {
		if err := Reg(reg, id, builtins[id]); err != nil {
			return err
		}
	}
	return nil
}

// parseLater validates a {ms, dispatch} entry. A negative ms means now.
func parseLater(v ir.IRValue) (time.Duration, ir.Event, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return 0, ir.Event{}, errors.New("expected {ms, dispatch} object, got " + ir.TypeName(v))
	}
	ms, ok := obj["ms"].(ir.IRInt)
	if !ok {
		return 0, ir.Event{}, errors.New("ms must be an integer, got " + ir.TypeName(obj["ms"]))
	}
	if ms < 0 {
		ms = 0
	}
	ev, err := ir.ParseEvent(obj["dispatch"])
	if err != nil {
		return 0, ir.Event{}, err
	}
	return time.Duration(ms) * time.Millisecond, ev, nil
}
