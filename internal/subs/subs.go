// Package subs derives cached, reactive values from app-db.
//
// A subscription handler computes a value from the db and a query vector.
// Subscribing returns a Reaction shared by every caller with a structurally
// equal query. Reactions recompute whenever app-db changes and notify their
// watchers only when the computed value changes.
package subs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/domino/internal/appdb"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/registrar"
	"github.com/roach88/domino/internal/trace"
)

const watchKey = "subs/cache"

// Handler computes a derived value.
type Handler func(db ir.IRValue, query ir.Event) ir.IRValue

// WatchFunc observes a change of a reaction's value.
type WatchFunc func(old, new ir.IRValue)

// Cache owns every live reaction of one app-db.
type Cache struct {
	reg    *registrar.Registrar
	db     *appdb.DB
	tracer *trace.Tracer
	logger *slog.Logger

	mu        sync.Mutex
	reactions map[string]*Reaction
}

// Option configures a Cache.
type Option func(*Cache)

// WithTracer traces reaction creation and recomputation.
func WithTracer(t *trace.Tracer) Option {
	return func(c *Cache) {
		c.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// NewCache creates a cache and starts watching db.
func NewCache(reg *registrar.Registrar, db *appdb.DB, opts ...Option) *Cache {
	c := &Cache{
		reg:       reg,
		db:        db,
		logger:    slog.Default(),
		reactions: make(map[string]*Reaction),
	}
	for _, opt := range opts {
		opt(c)
	}
	db.AddWatch(watchKey, func(_ string, _, newDB ir.IRValue) {
		c.recompute(newDB)
	})
	return c
}

// Reg registers h for id. Re-registering clears the cache so later
// subscribers see the new handler.
func (c *Cache) Reg(id string, h Handler) error {
	replacing := c.reg.Has(registrar.KindSub, id)
	if err := c.reg.Register(registrar.KindSub, id, h); err != nil {
		return err
	}
	if replacing {
		c.Clear()
	}
	return nil
}

// Subscribe returns the reaction for query, creating it on first use.
func (c *Cache) Subscribe(query ir.Event) (*Reaction, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	key := ir.QueryKey(query)

	c.mu.Lock()
	if r, ok := c.reactions[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	h, err := c.reg.Get(registrar.KindSub, query.ID, true)
	if err != nil {
		c.logger.Error("no subscription handler registered", "query", query.String())
		return nil, err
	}
	handler, ok := h.(Handler)
	if !ok {
		return nil, fmt.Errorf("subscription %q: unexpected handler type %T", query.ID, h)
	}

	span := c.tracer.Start(trace.Op{
		Operation: query.ID,
		OpType:    trace.OpSubCreate,
		Tags:      ir.Obj(ir.O("query-v", query.Vector())),
	})
	r := &Reaction{cache: c, key: key, query: query, handler: handler, watches: make(map[string]WatchFunc)}
	r.value = r.compute(c.db.Read())
	span.Finish()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.reactions[key]; ok {
		return existing, nil
	}
	c.reactions[key] = r
	return r, nil
}

// Clear disposes every cached reaction.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = make(map[string]*Reaction)
}

// Len returns the number of cached reactions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reactions)
}

func (c *Cache) recompute(db ir.IRValue) {
	c.mu.Lock()
	rs := make([]*Reaction, 0, len(c.reactions))
	for _, r := range c.reactions {
		rs = append(rs, r)
	}
	c.mu.Unlock()

	sort.Slice(rs, func(i, j int) bool { return rs[i].key < rs[j].key })
	for _, r := range rs {
		r.update(db)
	}
}

// Reaction is a cached derived value.
type Reaction struct {
	cache   *Cache
	key     string
	query   ir.Event
	handler Handler

	mu      sync.Mutex
	value   ir.IRValue
	watches map[string]WatchFunc
}

// Query returns the query vector this reaction answers.
func (r *Reaction) Query() ir.Event {
	return r.query
}

// Value returns the current derived value.
func (r *Reaction) Value() ir.IRValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Watch registers fn under key.
func (r *Reaction) Watch(key string, fn WatchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watches[key] = fn
}

// Unwatch removes the watcher under key.
func (r *Reaction) Unwatch(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watches, key)
}

// Dispose removes the reaction from its cache.
func (r *Reaction) Dispose() {
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	if r.cache.reactions[r.key] == r {
		delete(r.cache.reactions, r.key)
	}
}

func (r *Reaction) compute(db ir.IRValue) (out ir.IRValue) {
	defer func() {
		if p := recover(); p != nil {
			r.cache.logger.Error("subscription handler panicked", "query", r.query.String(), "panic", p)
			out = ir.IRNull{}
		}
	}()
	out = r.handler(db, r.query)
	if out == nil {
		out = ir.IRNull{}
	}
	return out
}

func (r *Reaction) update(db ir.IRValue) {
	span := r.cache.tracer.Start(trace.Op{
		Operation: r.query.ID,
		OpType:    trace.OpSubRun,
		Tags:      ir.Obj(ir.O("query-v", r.query.Vector())),
	})
	next := r.compute(db)
	span.Finish()

	r.mu.Lock()
	old := r.value
	if ir.Equal(old, next) {
		r.mu.Unlock()
		return
	}
	r.value = next
	keys := make([]string, 0, len(r.watches))
	for k := range r.watches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fns := make([]WatchFunc, len(keys))
	for i, k := range keys {
		fns[i] = r.watches[k]
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(old, next)
	}
}
