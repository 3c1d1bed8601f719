// Package events registers event interceptor chains and runs events
// through them.
package events

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/domino/internal/appdb"
	"github.com/roach88/domino/internal/interceptor"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/registrar"
	"github.com/roach88/domino/internal/trace"
)

// Log codes.
const (
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodeInterceptorFailed = "INTERCEPTOR_FAILED"
)

// ErrUnknownEvent is returned by Handle for an event with no registered chain.
var ErrUnknownEvent = errors.New("no handler registered for event")

// Router resolves event ids to chains and executes them.
type Router struct {
	reg    *registrar.Registrar
	db     *appdb.DB
	tracer *trace.Tracer
	logger *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithTracer traces every handled event as an "event" span.
func WithTracer(t *trace.Tracer) Option {
	return func(r *Router) {
		r.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// New creates a router over reg. db is read for trace tags only.
func New(reg *registrar.Registrar, db *appdb.DB, opts ...Option) *Router {
	r := &Router{reg: reg, db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register flattens chains and stores the result as the handler for id.
// The last interceptor is expected to be the handler itself.
func (r *Router) Register(id string, chains ...[]*interceptor.Interceptor) error {
	chain, err := interceptor.Flatten(chains...)
	if err != nil {
		return fmt.Errorf("register event %q: %w", id, err)
	}
	if len(chain) == 0 {
		return fmt.Errorf("register event %q: empty interceptor chain", id)
	}
	return r.reg.Register(registrar.KindEvent, id, chain)
}

// Chain returns the registered chain for id, or nil.
func (r *Router) Chain(id string) []*interceptor.Interceptor {
	h, err := r.reg.Get(registrar.KindEvent, id, false)
	if err != nil || h == nil {
		return nil
	}
	chain, _ := h.([]*interceptor.Interceptor)
	return chain
}

// Handle runs ev through its chain.
// An unknown id is logged and returns ErrUnknownEvent without touching
// app-db. A stage failure is logged with the interceptor id and returned
// as *interceptor.StageError.
func (r *Router) Handle(ev ir.Event) error {
	chain := r.Chain(ev.ID)
	if chain == nil {
		r.logger.Error("no handler registered for event",
			"code", CodeUnknownEvent,
			"event", ev.ID,
		)
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.ID)
	}

	span := r.tracer.Start(trace.Op{
		Operation: ev.ID,
		OpType:    trace.OpEvent,
		Tags:      ir.Obj(ir.O("event", ev.Vector())),
	})
	if span != nil {
		span.Tag("app-db-before", r.db.Read())
	}
	defer func() {
		if span != nil {
			span.Tag("app-db-after", r.db.Read())
			span.Finish()
		}
	}()

	ctx, err := interceptor.Execute(ev, chain)
	for _, se := range ctx.Suppressed {
		r.logger.Error("interceptor failed while unwinding",
			"code", CodeInterceptorFailed,
			"event", ev.ID,
			"interceptor", se.InterceptorID,
			"phase", string(se.Phase),
			"error", se.Err,
		)
	}
	if err != nil {
		var se *interceptor.StageError
		if errors.As(err, &se) {
			r.logger.Error("interceptor failed",
				"code", CodeInterceptorFailed,
				"event", ev.ID,
				"interceptor", se.InterceptorID,
				"phase", string(se.Phase),
				"error", se.Err,
			)
		} else {
			r.logger.Error("event failed", "code", CodeInterceptorFailed, "event", ev.ID, "error", err)
		}
		return err
	}
	return nil
}
