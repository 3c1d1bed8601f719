// Package program installs a compiled program on an engine.
//
// Each declared event becomes an fx handler. Path ops are applied with gjson
// and sjson over the canonical JSON of app-db; Lua handlers run in a
// restricted gopher-lua state. A db-kind handler's result becomes the db
// effect; an fx-kind handler's result is merged over the static fx object.
// Subscriptions read a gjson path from app-db.
package program

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/domino/internal/engine"
	"github.com/roach88/domino/internal/fx"
	"github.com/roach88/domino/internal/interceptor"
	"github.com/roach88/domino/internal/ir"
)

// Installed is a program registered on an engine.
type Installed struct {
	Program *ir.Program
	scripts []*Script
}

// Close releases the program's Lua states.
func (in *Installed) Close() {
	for _, s := range in.scripts {
		s.Close()
	}
	in.scripts = nil
}

type config struct {
	logger     *slog.Logger
	luaTimeout time.Duration
}

// Option configures Install.
type Option func(*config)

// WithLogger sets the logger used by the debug interceptor and sub errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithLuaTimeout bounds each Lua handler call. Default: DefaultLuaTimeout.
func WithLuaTimeout(d time.Duration) Option {
	return func(c *config) {
		c.luaTimeout = d
	}
}

// Install registers every event and subscription of p on e.
// Events are registered in id order. On error, Lua states created so far
// are closed and the engine may hold a partial program.
func Install(e *engine.Engine, p *ir.Program, opts ...Option) (*Installed, error) {
	cfg := &config{logger: slog.Default(), luaTimeout: DefaultLuaTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	in := &Installed{Program: p}
	ids := make([]string, 0, len(p.Events))
	for id := range p.Events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		spec := p.Events[id]
		if err := in.installEvent(e, cfg, id, spec); err != nil {
			in.Close()
			return nil, fmt.Errorf("install %s: event %q: %w", p.Name, id, err)
		}
	}

	subIDs := make([]string, 0, len(p.Subs))
	for id := range p.Subs {
		subIDs = append(subIDs, id)
	}
	sort.Strings(subIDs)
	for _, id := range subIDs {
		if err := e.RegSub(id, pathSub(cfg.logger, id, p.Subs[id].Path)); err != nil {
			in.Close()
			return nil, fmt.Errorf("install %s: sub %q: %w", p.Name, id, err)
		}
	}

	cfg.logger.Debug("program installed", "program", p.Name, "events", len(ids), "subs", len(subIDs))
	return in, nil
}

func (in *Installed) installEvent(e *engine.Engine, cfg *config, id string, spec ir.EventSpec) error {
	ics, err := interceptors(cfg.logger, spec.Interceptors)
	if err != nil {
		return err
	}

	var script *Script
	if spec.Lua != "" {
		script, err = NewScript(id, spec.Lua, cfg.luaTimeout)
		if err != nil {
			return err
		}
		in.scripts = append(in.scripts, script)
	}

	var h interceptor.FxHandlerFunc
	switch spec.Kind {
	case ir.KindDB:
		h = dbHandler(spec, script)
	case ir.KindFx:
		h = fxHandler(spec, script)
	default:
		return fmt.Errorf("unknown kind %q", spec.Kind)
	}
	return e.RegEventFx(id, h, ics...)
}

// dbHandler computes the next db with ops, then Lua, and adds it to the
// static effects.
func dbHandler(spec ir.EventSpec, script *Script) interceptor.FxHandlerFunc {
	return func(cofx ir.IRObject, event ir.IRValue) (ir.IRObject, error) {
		next := cofx[interceptor.CoeffectDB]
		var err error
		if len(spec.Ops) > 0 {
			if next, err = ApplyOps(next, spec.Ops, event); err != nil {
				return nil, err
			}
		}
		if script != nil {
			if next, err = script.Call(next, event); err != nil {
				return nil, err
			}
		}
		effects := copyObject(spec.Fx)
		effects[fx.EffectDB] = next
		return effects, nil
	}
}

// fxHandler merges ops and Lua results over the static effects. Keys
// returned by Lua win.
func fxHandler(spec ir.EventSpec, script *Script) interceptor.FxHandlerFunc {
	return func(cofx ir.IRObject, event ir.IRValue) (ir.IRObject, error) {
		effects := copyObject(spec.Fx)
		if len(spec.Ops) > 0 {
			next, err := ApplyOps(cofx[interceptor.CoeffectDB], spec.Ops, event)
			if err != nil {
				return nil, err
			}
			effects[fx.EffectDB] = next
		}
		if script == nil {
			return effects, nil
		}
		out, err := script.Call(cofx, event)
		if err != nil {
			return nil, err
		}
		switch v := out.(type) {
		case ir.IRNull:
		case ir.IRObject:
			for k, val := range v {
				effects[k] = val
			}
		default:
			return nil, fmt.Errorf("%w: %s: handle must return an effects table, got %s", ErrScript, spec.ID, ir.TypeName(out))
		}
		return effects, nil
	}
}

func interceptors(logger *slog.Logger, names []string) ([]*interceptor.Interceptor, error) {
	out := make([]*interceptor.Interceptor, 0, len(names))
	for _, name := range names {
		switch name {
		case ir.InterceptorDebug:
			out = append(out, interceptor.Debug(logger))
		case ir.InterceptorTrimV:
			out = append(out, interceptor.TrimV())
		case ir.InterceptorUnwrap:
			out = append(out, interceptor.Unwrap())
		default:
			return nil, fmt.Errorf("unknown interceptor %q", name)
		}
	}
	return out, nil
}

func pathSub(logger *slog.Logger, id, path string) func(ir.IRValue, ir.Event) ir.IRValue {
	return func(db ir.IRValue, _ ir.Event) ir.IRValue {
		v, err := ReadPath(db, path)
		if err != nil {
			logger.Error("subscription path read failed", "sub", id, "path", path, "error", err)
			return ir.IRNull{}
		}
		return v
	}
}

func copyObject(o ir.IRObject) ir.IRObject {
	out := make(ir.IRObject, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	return out
}

// DispatchInit queues the program's init events in order.
func DispatchInit(e *engine.Engine, p *ir.Program) error {
	for i, ev := range p.Init {
		if err := e.Dispatch(ev); err != nil {
			return fmt.Errorf("init[%d] %s: %w", i, ev.ID, err)
		}
	}
	return nil
}
