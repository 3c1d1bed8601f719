package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/domino/internal/appdb"
	"github.com/roach88/domino/internal/cofx"
	"github.com/roach88/domino/internal/events"
	"github.com/roach88/domino/internal/fx"
	"github.com/roach88/domino/internal/interceptor"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/registrar"
	"github.com/roach88/domino/internal/sched"
	"github.com/roach88/domino/internal/subs"
	"github.com/roach88/domino/internal/trace"
)

// DefaultMaxSteps is the default maximum number of events one flow may
// process before the queue next drains.
const DefaultMaxSteps = 1000

// Journal records every event the engine processes, before its handler runs.
// nested is true for events handled by DispatchSync from inside another
// handler; replay skips them because the parent re-dispatches them.
type Journal interface {
	Append(seq int64, flowToken string, ev ir.Event, nested bool) error
}

// Engine is the single-writer event loop.
//
// It owns one registrar, app-db, tracer, scheduler, task queue,
// subscription cache and logical clock. Nothing is shared between engines.
//
// Thread-safety model:
//   - Dispatch(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - DispatchSync(), Flush(): only from the Run goroutine (that is, from a
//     handler), or from the owning goroutine while Run is not active
//
// Timer callbacks never touch engine state directly: they are posted onto
// the queue and run by whoever drains it.
type Engine struct {
	reg     *registrar.Registrar
	db      *appdb.DB
	tracer  *trace.Tracer
	router  *events.Router
	subs    *subs.Cache
	queue   *taskQueue
	clock   *Clock
	flowGen FlowTokenGenerator
	logger  *slog.Logger
	doFx    *interceptor.Interceptor

	base  sched.Scheduler
	sched sched.Scheduler

	tracing   bool
	initialDB ir.IRValue
	maxSteps  int
	journal   Journal
	keepFx    func(id string) bool

	// Current processing frame; nil between events.
	frame *frame
	quota *Quota
}

type frame struct {
	eventID   string
	flowToken string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracing enables tracing for the engine's lifetime.
func WithTracing(enabled bool) Option {
	return func(e *Engine) {
		e.tracing = enabled
	}
}

// WithScheduler sets the scheduler for trace delivery and dispatch-later.
// Default: sched.System().
func WithScheduler(s sched.Scheduler) Option {
	return func(e *Engine) {
		e.base = s
	}
}

// WithLogger sets the logger shared by every component of the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithInitialDB sets the initial app-db value. Default: empty object.
func WithInitialDB(v ir.IRValue) Option {
	return func(e *Engine) {
		e.initialDB = v
	}
}

// WithFlowGenerator sets the flow token generator. Default: UUIDv7Generator.
func WithFlowGenerator(g FlowTokenGenerator) Option {
	return func(e *Engine) {
		e.flowGen = g
	}
}

// WithMaxSteps sets the per-flow event quota. Zero disables it.
//
// Default: 1000 steps (DefaultMaxSteps)
// Use WithMaxSteps(10) for testing quota enforcement.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithJournal records every processed event to j.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithEffectFilter restricts executed effects to ids for which keep returns
// true. Replay uses it to apply only db effects.
func WithEffectFilter(keep func(id string) bool) Option {
	return func(e *Engine) {
		e.keepFx = keep
	}
}

// New creates an engine with the built-in effects registered.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		base:     sched.System(),
		flowGen:  UUIDv7Generator{},
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
		clock:    NewClock(),
		queue:    newTaskQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.quota = NewQuota(e.maxSteps)
	e.sched = sched.Func(e.base, e.post)
	e.reg = registrar.New(registrar.WithLogger(e.logger))
	e.db = appdb.New(e.initialDB)
	e.db.SetLogger(e.logger)
	e.tracer = trace.New(e.tracing, trace.WithScheduler(e.sched), trace.WithLogger(e.logger))
	e.router = events.New(e.reg, e.db, events.WithTracer(e.tracer), events.WithLogger(e.logger))
	e.subs = subs.NewCache(e.reg, e.db, subs.WithTracer(e.tracer), subs.WithLogger(e.logger))

	fxOpts := []fx.Option{fx.WithLogger(e.logger), fx.WithTracer(e.tracer)}
	if e.keepFx != nil {
		fxOpts = append(fxOpts, fx.WithFilter(e.keepFx))
	}
	e.doFx = fx.DoFx(e.reg, fxOpts...)

	if err := fx.RegisterBuiltins(e.reg, effectRuntime{e}); err != nil {
		return nil, fmt.Errorf("register built-in effects: %w", err)
	}
	return e, nil
}

// std is the prefix of every event chain.
func (e *Engine) std() []*interceptor.Interceptor {
	return []*interceptor.Interceptor{cofx.InjectDB(e.db), e.doFx}
}

// RegEventDB registers a handler that computes a new db.
func (e *Engine) RegEventDB(id string, h interceptor.DBHandlerFunc, ics ...*interceptor.Interceptor) error {
	return e.router.Register(id, e.std(), ics, []*interceptor.Interceptor{interceptor.DBHandler(h)})
}

// RegEventFx registers a handler that returns an effects map.
func (e *Engine) RegEventFx(id string, h interceptor.FxHandlerFunc, ics ...*interceptor.Interceptor) error {
	return e.router.Register(id, e.std(), ics, []*interceptor.Interceptor{interceptor.FxHandler(h)})
}

// RegEventCtx registers a handler that works on the whole context.
func (e *Engine) RegEventCtx(id string, h interceptor.CtxHandlerFunc, ics ...*interceptor.Interceptor) error {
	return e.router.Register(id, e.std(), ics, []*interceptor.Interceptor{interceptor.CtxHandler(h)})
}

// RegFx registers an effect handler.
func (e *Engine) RegFx(id string, h fx.Handler) error {
	return fx.Reg(e.reg, id, h)
}

// RegCofx registers a coeffect handler.
func (e *Engine) RegCofx(id string, h cofx.Handler) error {
	return cofx.Reg(e.reg, id, h)
}

// RegSub registers a subscription handler.
func (e *Engine) RegSub(id string, h subs.Handler) error {
	return e.subs.Reg(id, h)
}

// InjectCofx returns an interceptor that applies the coeffect id.
func (e *Engine) InjectCofx(id string, arg ir.IRValue) *interceptor.Interceptor {
	return cofx.Inject(e.reg, id, arg)
}

// ClearEvent removes the handler for id. A missing id is logged as a warning.
func (e *Engine) ClearEvent(id string) {
	_ = e.reg.ClearID(registrar.KindEvent, id)
}

// Dispatch queues ev as the root of a new flow.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Dispatch(ev ir.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return e.enqueue(ev, e.flowGen.Generate())
}

func (e *Engine) enqueue(ev ir.Event, flowToken string) error {
	if !e.queue.Enqueue(task{kind: taskEvent, event: ev, flowToken: flowToken}) {
		return ErrStopped
	}
	return nil
}

// post hands a scheduler callback to the loop.
func (e *Engine) post(f func()) {
	if !e.queue.Enqueue(task{kind: taskFunc, fn: f}) {
		e.logger.Debug("engine stopped; dropping timer callback")
	}
}

// DispatchSync handles ev immediately, bypassing the queue.
// Called from inside a handler, ev joins the current flow and runs with its
// own context before the caller's handler resumes.
func (e *Engine) DispatchSync(ev ir.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("dispatch-sync: %w", err)
	}
	if e.queue.Closed() {
		return ErrStopped
	}

	nested := e.frame != nil
	flowToken := e.currentFlow()

	span := e.tracer.Start(trace.Op{
		Operation: ev.ID,
		OpType:    trace.OpSyncDispatch,
		Tags:      ir.Obj(ir.O("event", ev.Vector())),
	})
	defer span.Finish()

	if err := e.admit(ev, flowToken); err != nil {
		return err
	}
	err := e.handle(ev, flowToken, nested)
	if !nested && e.queue.Len() == 0 {
		e.idle()
	}
	return err
}

// currentFlow returns the flow of the event being handled, or a new token.
func (e *Engine) currentFlow() string {
	if e.frame != nil {
		return e.frame.flowToken
	}
	return e.flowGen.Generate()
}

// Flush processes queued tasks until the queue is empty and returns the
// number of events handled. Events dropped by the quota are not counted.
func (e *Engine) Flush() int {
	n := 0
	for {
		t, ok := e.queue.TryDequeue()
		if !ok {
			e.idle()
			return n
		}
		if e.process(t) {
			n++
		}
	}
}

// Run starts the single-writer loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// ERROR HANDLING: a failing event is logged where it fails and the loop
// moves on to the next task. Retrying would make the journal diverge from
// what handlers actually saw.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		t, ok := e.queue.TryDequeue()
		if ok {
			e.process(t)
			continue
		}
		e.idle()

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.tracer.Flush()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop rejects further dispatches, stops Run and delivers any buffered
// trace records.
func (e *Engine) Stop() {
	e.queue.Close()
	e.tracer.Flush()
}

// process runs one task and reports whether it handled an event.
func (e *Engine) process(t task) bool {
	switch t.kind {
	case taskFunc:
		t.fn()
		return false
	case taskEvent:
		if err := e.admit(t.event, t.flowToken); err != nil {
			return false
		}
		_ = e.handle(t.event, t.flowToken, false)
		return true
	default:
		e.logger.Error("unknown task kind", "kind", int(t.kind))
		return false
	}
}

// admit charges ev against its flow's quota.
func (e *Engine) admit(ev ir.Event, flowToken string) error {
	err := e.quota.Charge(flowToken, ev.ID)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		return err
	}
	e.logger.Error("max steps quota exceeded; dropping event",
		"code", string(ErrCodeQuotaExceeded),
		"event", ev.ID,
		"flow_token", flowToken,
		"steps", qe.Used,
		"limit", qe.Limit,
	)
	return NewQuotaError(qe)
}

// idle forgets per-flow quotas once no work is pending.
func (e *Engine) idle() {
	e.quota.Forget()
}

// handle journals ev and runs it through its chain. Failures are logged by
// the router; the returned error classifies them.
func (e *Engine) handle(ev ir.Event, flowToken string, nested bool) error {
	seq := e.clock.Next()
	if e.journal != nil {
		if err := e.journal.Append(seq, flowToken, ev, nested); err != nil {
			e.logger.Error("journal append failed",
				"event", ev.ID,
				"flow_token", flowToken,
				"seq", seq,
				"error", err,
			)
		}
	}

	e.logger.Debug("processing event",
		"event", ev.ID,
		"flow_token", flowToken,
		"seq", seq,
		"nested", nested,
	)

	prev := e.frame
	e.frame = &frame{eventID: ev.ID, flowToken: flowToken}
	defer func() { e.frame = prev }()

	err := e.router.Handle(ev)
	if err == nil {
		return nil
	}
	return classify(err, ev.ID, flowToken)
}

func classify(err error, eventID, flowToken string) error {
	re := &RuntimeError{EventID: eventID, FlowToken: flowToken, Err: err, Message: err.Error()}
	var se *interceptor.StageError
	switch {
	case errors.Is(err, events.ErrUnknownEvent):
		re.Code = ErrCodeUnknownEvent
		re.Message = "no handler registered for event"
	case errors.As(err, &se):
		re.Code = ErrCodeInterceptorFailed
		re.Interceptor = se.InterceptorID
		re.Message = se.Err.Error()
	default:
		re.Code = ErrCodeInterceptorFailed
	}
	return re
}

// Subscribe returns the cached reaction for query.
func (e *Engine) Subscribe(query ir.Event) (*subs.Reaction, error) {
	return e.subs.Subscribe(query)
}

// ReadState returns the current app-db value.
func (e *Engine) ReadState() ir.IRValue {
	return e.db.Read()
}

// RegisterTraceCallback adds or replaces the trace callback under key.
func (e *Engine) RegisterTraceCallback(key string, cb trace.Callback) {
	e.tracer.RegisterCallback(key, cb)
}

// RemoveTraceCallback removes the trace callback under key.
func (e *Engine) RemoveTraceCallback(key string) {
	e.tracer.RemoveCallback(key)
}

// Tracer returns the engine's tracer.
func (e *Engine) Tracer() *trace.Tracer {
	return e.tracer
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// MaxSteps returns the per-flow event quota.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// QueueLen returns the current number of pending tasks.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// effectRuntime is what the built-in effects see. Dispatches made through it
// join the flow of the event being handled.
type effectRuntime struct {
	e *Engine
}

func (r effectRuntime) AppDB() *appdb.DB {
	return r.e.db
}

func (r effectRuntime) Dispatch(ev ir.Event) error {
	return r.e.enqueue(ev, r.e.currentFlow())
}

func (r effectRuntime) DispatchLater(d time.Duration, ev ir.Event) {
	flowToken := r.e.currentFlow()
	r.e.logger.Debug("dispatch-later scheduled", "event", ev.ID, "flow_token", flowToken, "delay", d)
	r.e.base.AfterFunc(d, func() {
		if err := r.e.enqueue(ev, flowToken); err != nil {
			r.e.logger.Debug("engine stopped; dropping delayed event", "event", ev.ID)
		}
	})
}

func (r effectRuntime) ClearEvent(id string) {
	r.e.ClearEvent(id)
}
