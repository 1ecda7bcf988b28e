package pd

import "sync"

// serialQueue runs submitted functions one at a time on a dedicated
// goroutine. A library routes every catalog and sidecar mutation through its
// queue, which makes it the single mutator of that state.
//
// Functions running on the queue must not submit to the same queue.
type serialQueue struct {
	mu     sync.Mutex
	work   chan func()
	done   chan struct{}
	closed bool
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) run() {
	defer close(q.done)
	for f := range q.work {
		f()
	}
}

// sync runs f on the queue and waits for it. It returns false without
// running f once the queue is closed.
func (q *serialQueue) sync(f func()) bool {
	finished := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.work <- func() {
		defer close(finished)
		f()
	}
	q.mu.Unlock()
	<-finished
	return true
}

// close drains pending work and stops the queue. It is idempotent.
func (q *serialQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.work)
	}
	q.mu.Unlock()
	<-q.done
}
