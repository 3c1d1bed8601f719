package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/domino/internal/sched"
)

// FakeEpoch is the virtual start time of every FakeScheduler.
var FakeEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeScheduler is a deterministic sched.Scheduler driven by Advance.
//
// Timers fire synchronously inside Advance, in due-time order; timers with
// the same due time fire in the order they were created. A callback that
// schedules another timer within the advanced window sees it fire in the
// same Advance call. When callbacks only hand work to another loop (the
// engine posts timer callbacks onto its queue), use AdvanceWith so that
// loop can run, and re-arm, at each due time.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run
// without the internal lock held.
type FakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *FakeScheduler
	id      int64
	due     time.Time
	f       func()
	stopped bool
	fired   bool
}

// NewFakeScheduler creates a scheduler whose clock starts at FakeEpoch.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{now: FakeEpoch}
}

// Now returns the current virtual time.
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc schedules f to run once virtual time reaches now+d.
func (s *FakeScheduler) AfterFunc(d time.Duration, f func()) sched.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &fakeTimer{s: s, id: s.nextID, due: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing every timer that comes due.
// Returns the number of callbacks run.
func (s *FakeScheduler) Advance(d time.Duration) int {
	return s.AdvanceWith(d, nil)
}

// AdvanceWith is Advance with settle called after each callback, while the
// clock still reads that timer's due time. Timers settle schedules inside
// the window fire in the same call.
func (s *FakeScheduler) AdvanceWith(d time.Duration, settle func()) int {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	fired := 0
	for {
		t := s.popDue(target)
		if t == nil {
			break
		}
		t.f()
		fired++
		if settle != nil {
			settle()
		}
	}

	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
	return fired
}

// popDue removes and returns the earliest live timer due at or before target,
// moving the clock to its due time.
func (s *FakeScheduler) popDue(target time.Time) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live

	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].due.Equal(s.timers[j].due) {
			return s.timers[i].id < s.timers[j].id
		}
		return s.timers[i].due.Before(s.timers[j].due)
	})

	if len(s.timers) == 0 || s.timers[0].due.After(target) {
		return nil
	}
	t := s.timers[0]
	t.fired = true
	s.timers = s.timers[1:]
	if t.due.After(s.now) {
		s.now = t.due
	}
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Stop implements sched.Timer.
func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
