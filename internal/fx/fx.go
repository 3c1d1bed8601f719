// Package fx executes the effects map produced by event handlers.
//
// Effects are actioned by the do-fx interceptor, which sits near the front
// of every event chain and so runs its After stage last. Each key of the
// effects map names an effect handler registered under registrar.KindFx.
// Keys are processed in canonical key order; handlers must not depend on
// that order. When a later stage of the chain failed, no effect runs.
package fx

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/domino/internal/interceptor"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/registrar"
	"github.com/roach88/domino/internal/trace"
)

// InterceptorID is the id of the effect-executing interceptor.
const InterceptorID = "do-fx"

// Log codes.
const (
	CodeMissingHandler = "MISSING_EFFECT_HANDLER"
	CodeMalformed      = "MALFORMED_EFFECT"
	CodeFailed         = "EFFECT_FAILED"
)

// ErrMalformed marks an effect value of the wrong shape.
var ErrMalformed = errors.New("malformed effect value")

// Handler actions one effect value.
type Handler func(value ir.IRValue) error

// Reg registers h as the effect handler for id.
func Reg(reg *registrar.Registrar, id string, h Handler) error {
	return reg.Register(registrar.KindFx, id, h)
}

type config struct {
	logger *slog.Logger
	tracer *trace.Tracer
	filter func(id string) bool
}

// Option configures DoFx.
type Option func(*config)

// WithLogger sets the logger for effect failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithTracer traces each effects pass as an event/do-fx span.
func WithTracer(t *trace.Tracer) Option {
	return func(c *config) {
		c.tracer = t
	}
}

// WithFilter restricts execution to effect ids for which keep returns true.
// Filtered effects are skipped silently.
func WithFilter(keep func(id string) bool) Option {
	return func(c *config) {
		c.filter = keep
	}
}

// DoFx returns the interceptor that actions ctx.Effects.
// An unregistered key is logged once and skipped; a failing or panicking
// handler is logged and the remaining effects still run. If the chain is
// unwinding a failure (ctx.Err set), the effects are discarded.
func DoFx(reg *registrar.Registrar, opts ...Option) *interceptor.Interceptor {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	return &interceptor.Interceptor{
		ID: InterceptorID,
		After: func(ctx *interceptor.Context) error {
			eventID := eventIDOf(ctx)
			if ctx.Err != nil {
				if len(ctx.Effects) > 0 {
					cfg.logger.Warn("event failed; skipping effects",
						"event", eventID,
						"effects", len(ctx.Effects),
						"error", ctx.Err,
					)
				}
				return nil
			}
			span := cfg.tracer.Start(trace.Op{Operation: eventID, OpType: trace.OpDoFx})
			defer span.Finish()

			for _, key := range ctx.Effects.SortedKeys() {
				if cfg.filter != nil && !cfg.filter(key) {
					continue
				}
				h, err := reg.Get(registrar.KindFx, key, false)
				if err != nil || h == nil {
					cfg.logger.Error("no handler registered for effect; ignoring",
						"code", CodeMissingHandler,
						"effect", key,
						"event", eventID,
					)
					continue
				}
				handler, ok := h.(Handler)
				if !ok {
					cfg.logger.Error("effect handler has unexpected type",
						"code", CodeFailed,
						"effect", key,
						"type", fmt.Sprintf("%T", h),
					)
					continue
				}
				if err := run(handler, ctx.Effects[key]); err != nil {
					code := CodeFailed
					if errors.Is(err, ErrMalformed) {
						code = CodeMalformed
					}
					cfg.logger.Error("effect failed",
						"code", code,
						"effect", key,
						"event", eventID,
						"error", err,
					)
				}
			}
			return nil
		},
	}
}

func run(h Handler, v ir.IRValue) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(v)
}

func eventIDOf(ctx *interceptor.Context) string {
	if vec, ok := ctx.OriginalEvent().(ir.IRArray); ok && len(vec) > 0 {
		if id, ok := vec[0].(ir.IRString); ok {
			return string(id)
		}
	}
	return ""
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
