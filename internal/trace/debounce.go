package trace

import (
	"sync"
	"time"

	"github.com/roach88/domino/internal/sched"
)

// Debouncer buffers records and delivers them in one batch once the pending
// timer fires. Each Trigger replaces the pending timer.
type Debouncer struct {
	mu      sync.Mutex
	sched   sched.Scheduler
	delay   time.Duration
	timer   sched.Timer
	buf     []Record
	deliver func([]Record)
}

// NewDebouncer creates a debouncer that hands batches to deliver after delay.
func NewDebouncer(s sched.Scheduler, delay time.Duration, deliver func([]Record)) *Debouncer {
	return &Debouncer{sched: s, delay: delay, deliver: deliver}
}

// Record appends r to the pending batch.
func (d *Debouncer) Record(r Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = append(d.buf, r)
}

// Trigger cancels any pending delivery and schedules a new one after delay.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.sched.AfterFunc(d.delay, d.Flush)
}

// Flush delivers the buffered batch now and clears the buffer.
// An empty buffer is not delivered.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	batch := d.buf
	d.buf = nil
	d.timer = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	d.deliver(batch)
}

// Cancel drops the pending timer and buffered records.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.buf = nil
}

// Pending returns the number of buffered records.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}
