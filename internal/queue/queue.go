// Package queue implements the engine's per-account single-writer serial
// execution primitive: one goroutine draining a buffered job channel, so
// that Store mutations and Resource Manager reconciliations for the same
// account never race each other.
package queue

import (
	"context"
	"sync"
)

// Queue runs submitted jobs one at a time, in submission order, on a single
// background goroutine. It is safe to Submit from multiple goroutines.
type Queue struct {
	jobs   chan func()
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// New starts a Queue with the given job buffer size. A size of 0 makes
// Submit block until the worker is ready for the next job.
func New(bufferSize int) *Queue {
	q := &Queue{
		jobs: make(chan func(), bufferSize),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for job := range q.jobs {
		job()
	}
}

// Submit enqueues job to run on the worker goroutine. It returns an error
// if the queue has been stopped. Submit does not block on job's
// completion; use SubmitWait for that.
func (q *Queue) Submit(job func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errClosed
	}
	q.mu.Unlock()
	q.jobs <- job
	return nil
}

// SubmitWait enqueues job and blocks until it has run, or until ctx is
// cancelled first (in which case job may still run later).
func (q *Queue) SubmitWait(ctx context.Context, job func()) error {
	finished := make(chan struct{})
	err := q.Submit(func() {
		defer close(finished)
		job()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue. Jobs already submitted run to completion; no new
// job may be submitted afterward. Stop blocks until the worker goroutine
// has drained the remaining jobs.
func (q *Queue) Stop() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.jobs)
	})
	<-q.done
}

type queueClosedError struct{}

func (queueClosedError) Error() string { return "queue: stopped, no longer accepting jobs" }

var errClosed = queueClosedError{}
