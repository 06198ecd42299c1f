// Package callback implements the bounded callback executor of spec.md
// §4.4: user callbacks run off the I/O path, with system-wide concurrency
// bounded by a shared semaphore, and per-connection FIFO order because the
// application doesn't otherwise specify (spec.md §5: "Callbacks are
// delivered in the order handles are completed on a given node").
package callback

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nimbusdb/goclient/internal/trace"
)

// Executor bounds how many callbacks may run concurrently across every
// Queue it hands out, mirroring spec.md §5's "shared callback-executor
// worker pool (one per cluster / standalone node)".
type Executor struct {
	sem *semaphore.Weighted
}

// NewExecutor creates an executor allowing up to capacity callbacks to run
// concurrently across all of its queues.
func NewExecutor(capacity int64) *Executor {
	if capacity < 1 {
		capacity = 1
	}
	return &Executor{sem: semaphore.NewWeighted(capacity)}
}

// NewQueue creates a per-connection ordered queue backed by this executor's
// shared concurrency budget.
func (e *Executor) NewQueue() *Queue {
	q := &Queue{
		executor: e,
		tasks:    make(chan func(), 256),
		stopped:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Queue delivers callbacks for a single connection strictly in submission
// order: its run loop processes one task at a time, so a slow callback
// delays only its own connection's later callbacks, never another
// connection's (those run on their own Queue, concurrently, up to the
// shared Executor's capacity).
type Queue struct {
	executor *Executor
	tasks    chan func()
	stopped  chan struct{}
	stopOnce sync.Once
}

// Submit enqueues fn for execution. It never blocks on the semaphore
// itself — only the queue's own run loop does — so callers on the I/O path
// (the receive loop) are held up by slow callbacks only once the queue's
// 256-task buffer is full, in which case Submit blocks until a slot frees.
func (q *Queue) Submit(fn func()) {
	q.tasks <- fn
}

func (q *Queue) run() {
	defer close(q.stopped)
	for fn := range q.tasks {
		q.executor.sem.Acquire(context.Background(), 1)
		safeRun(fn)
		q.executor.sem.Release(1)
	}
}

// Stop closes the queue for further submission and blocks until every
// already-enqueued task has run, per spec.md §4.4 ("stop() drains the
// queue... and terminates workers").
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.tasks) })
	<-q.stopped
}

// safeRun executes fn with panic recovery, so a misbehaving callback can
// never take down the queue's run loop (grounded on the teacher's
// WorkerPool.processTask recover pattern).
func safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			trace.Emit(trace.Error, trace.EventMessage, trace.Fields{
				"message": fmt.Sprintf("callback panic recovered: %v", r),
			})
		}
	}()
	fn()
}
