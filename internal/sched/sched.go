// Package sched abstracts wall-clock time and deferred callbacks.
//
// The engine, the tracer's debouncer and the dispatch-later effect all take a
// Scheduler so tests can drive time deterministically (see
// testutil.FakeScheduler).
package sched

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer; false means it already fired or was stopped.
	Stop() bool
}

// Scheduler provides the current time and one-shot deferred callbacks.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System returns a Scheduler backed by the time package.
// Callbacks run on their own goroutine.
func System() Scheduler {
	return systemScheduler{}
}

type systemScheduler struct{}

func (systemScheduler) Now() time.Time {
	return time.Now()
}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Func adapts a scheduler so every callback is handed to post instead of
// being run directly. The engine uses it to route timer callbacks through
// its event queue.
func Func(s Scheduler, post func(f func())) Scheduler {
	return posting{Scheduler: s, post: post}
}

type posting struct {
	Scheduler
	post func(f func())
}

func (p posting) AfterFunc(d time.Duration, f func()) Timer {
	return p.Scheduler.AfterFunc(d, func() { p.post(f) })
}
