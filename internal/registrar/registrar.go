// Package registrar stores handlers keyed by kind and id.
//
// Kinds are fixed when the registrar is created: event, fx, cofx and sub.
// Within a kind the last registration wins. Lookups are safe from any
// goroutine; registration normally happens during setup.
package registrar

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Kind names a class of handler.
type Kind string

const (
	KindEvent Kind = "event"
	KindFx    Kind = "fx"
	KindCofx  Kind = "cofx"
	KindSub   Kind = "sub"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindEvent, KindFx, KindCofx, KindSub}

// ErrUnknownKind is returned for a kind outside Kinds.
var ErrUnknownKind = errors.New("unknown handler kind")

// NoHandlerError reports a required handler that is not registered.
type NoHandlerError struct {
	Kind Kind
	ID   string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no %s handler registered for %q", e.Kind, e.ID)
}

// IsNoHandler reports whether err is (or wraps) a NoHandlerError.
func IsNoHandler(err error) bool {
	var nh *NoHandlerError
	return errors.As(err, &nh)
}

// Registrar is a kind-partitioned handler table.
type Registrar struct {
	mu       sync.RWMutex
	handlers map[Kind]map[string]any
	logger   *slog.Logger
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithLogger sets the logger used for overwrite warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registrar) {
		r.logger = l
	}
}

// New creates an empty registrar with every kind initialised.
func New(opts ...Option) *Registrar {
	r := &Registrar{
		handlers: make(map[Kind]map[string]any, len(Kinds)),
		logger:   slog.Default(),
	}
	for _, k := range Kinds {
		r.handlers[k] = make(map[string]any)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores handler under (kind, id), replacing any previous entry.
func (r *Registrar) Register(kind Kind, id string, handler any) error {
	if handler == nil {
		return fmt.Errorf("register %s %q: nil handler", kind, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.handlers[kind]
	if !ok {
		return fmt.Errorf("register %q: %w: %s", id, ErrUnknownKind, kind)
	}
	if _, exists := table[id]; exists {
		r.logger.Warn("overwriting handler", "kind", string(kind), "id", id)
	}
	table[id] = handler
	return nil
}

// Get returns the handler for (kind, id).
// A missing handler yields *NoHandlerError when required, else (nil, nil).
func (r *Registrar) Get(kind Kind, id string, required bool) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("get %q: %w: %s", id, ErrUnknownKind, kind)
	}
	h, ok := table[id]
	if !ok {
		if required {
			return nil, &NoHandlerError{Kind: kind, ID: id}
		}
		return nil, nil
	}
	return h, nil
}

// Has reports whether (kind, id) is registered.
func (r *Registrar) Has(kind Kind, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind][id]
	return ok
}

// Clear removes every handler of kind.
func (r *Registrar) Clear(kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[kind]; !ok {
		return fmt.Errorf("clear: %w: %s", ErrUnknownKind, kind)
	}
	r.handlers[kind] = make(map[string]any)
	return nil
}

// ClearID removes one handler. Removing an absent id logs a warning.
func (r *Registrar) ClearID(kind Kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.handlers[kind]
	if !ok {
		return fmt.Errorf("clear %q: %w: %s", id, ErrUnknownKind, kind)
	}
	if _, exists := table[id]; !exists {
		r.logger.Warn("can't clear handler: not registered", "kind", string(kind), "id", id)
		return nil
	}
	delete(table, id)
	return nil
}

// IDs returns the registered ids of kind in sorted order.
func (r *Registrar) IDs(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers[kind]))
	for id := range r.handlers[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
