package engine

import (
	"sync"

	"github.com/roach88/domino/internal/ir"
)

// taskKind distinguishes queued work.
type taskKind int

const (
	// taskEvent is an event to run through its interceptor chain.
	taskEvent taskKind = iota + 1
	// taskFunc is a callback posted by the scheduler, such as a trace
	// delivery.
	taskFunc
)

// task is one unit of work for the engine loop.
type task struct {
	kind      taskKind
	event     ir.Event
	flowToken string
	fn        func()
}

// taskQueue is a thread-safe FIFO queue for tasks.
//
// The queue is unbounded so an effect may dispatch any number of events
// without blocking the handler that produced it. Dispatch may be called from
// any goroutine while the loop dequeues.
//
// A buffered channel of size 1 signals availability so the Run loop can wait
// on it together with context cancellation.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front task without blocking.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]

	// Clear the slot so the backing array does not retain the event payload
	// or closure.
	q.tasks[0] = task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Wait returns a channel that signals when tasks may be available.
// The channel is closed by Close.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Closed reports whether Close has been called.
func (q *taskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further tasks and wakes any waiter. Queued tasks remain
// available to TryDequeue.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
