// Package appdb holds the single application state value.
//
// The value is replaced wholesale, never mutated. Writers are expected to
// produce new trees (see ir.AssocIn) so watchers can compare old and new.
package appdb

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/domino/internal/ir"
)

// WatchFunc observes a change of the stored value.
type WatchFunc func(key string, old, new ir.IRValue)

// DB is a reactive holder for one ir.IRValue.
type DB struct {
	mu      sync.RWMutex
	value   ir.IRValue
	version int64
	watches map[string]WatchFunc
	logger  *slog.Logger
}

// New creates a store holding initial. A nil initial becomes an empty object.
func New(initial ir.IRValue) *DB {
	if initial == nil {
		initial = ir.IRObject{}
	}
	return &DB{
		value:   initial,
		watches: make(map[string]WatchFunc),
		logger:  slog.Default(),
	}
}

// SetLogger replaces the logger used to report panicking watchers.
func (d *DB) SetLogger(l *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = l
}

// Read returns the current value.
func (d *DB) Read() ir.IRValue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// Version counts effective writes since creation.
func (d *DB) Version() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Reset replaces the value. A write that is ir.Same as the current value is
// skipped and reports false. Watchers run after the write, in key order,
// outside the lock.
func (d *DB) Reset(v ir.IRValue) bool {
	if v == nil {
		v = ir.IRNull{}
	}
	d.mu.Lock()
	old := d.value
	if ir.Same(old, v) {
		d.mu.Unlock()
		return false
	}
	d.value = v
	d.version++
	keys := make([]string, 0, len(d.watches))
	for k := range d.watches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fns := make([]WatchFunc, len(keys))
	for i, k := range keys {
		fns[i] = d.watches[k]
	}
	logger := d.logger
	d.mu.Unlock()

	for i, fn := range fns {
		d.notify(logger, keys[i], fn, old, v)
	}
	return true
}

func (d *DB) notify(logger *slog.Logger, key string, fn WatchFunc, old, v ir.IRValue) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("app-db watcher panicked", "watch", key, "panic", r)
		}
	}()
	fn(key, old, v)
}

// AddWatch registers fn under key, replacing any watcher with the same key.
func (d *DB) AddWatch(key string, fn WatchFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watches[key] = fn
}

// RemoveWatch unregisters the watcher under key.
func (d *DB) RemoveWatch(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.watches, key)
}
