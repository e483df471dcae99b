package event

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by blocking queue operations after Close.
var ErrQueueClosed = errors.New("event: queue closed")

// Queue is a bounded priority queue of events. Dequeue order is strict
// priority order with FIFO ordering inside a priority class.
//
// All methods are safe for concurrent use. The intended topology is
// many producers and a single consumer, but nothing enforces that.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    eventHeap
	seq      uint64
	max      int
	closed   bool
}

// NewQueue creates a Queue holding at most max events. max must be positive.
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 1
	}
	q := &Queue{max: max}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Offer enqueues ev without blocking. It returns false when the queue is
// full or closed — backpressure is expressed solely through this result.
func (q *Queue) Offer(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) >= q.max {
		return false
	}
	q.push(ev)
	return true
}

// Put enqueues ev, waiting up to timeout for space. It returns
// [ErrQueueClosed] after Close and a timeout error when the queue stays full.
func (q *Queue) Put(ev Event, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.max {
		if q.closed {
			return ErrQueueClosed
		}
		if !time.Now().Before(deadline) {
			return errors.New("event: enqueue timed out")
		}
		q.waitUntil(q.notFull, deadline)
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.push(ev)
	return nil
}

// Get dequeues the most urgent event, waiting up to timeout for one to
// arrive. The second return is false on timeout or when the queue is closed
// and drained.
func (q *Queue) Get(timeout time.Duration) (Event, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return Event{}, false
		}
		if !time.Now().Before(deadline) {
			return Event{}, false
		}
		q.waitUntil(q.notEmpty, deadline)
	}
	it := heap.Pop(&q.items).(item)
	q.notFull.Signal()
	return it.ev, true
}

// TryGet dequeues without blocking.
func (q *Queue) TryGet() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	it := heap.Pop(&q.items).(item)
	q.notFull.Signal()
	return it.ev, true
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured bound.
func (q *Queue) Cap() int { return q.max }

// Close marks the queue closed and wakes all waiters. Buffered events remain
// readable through Get/TryGet; new enqueues fail.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// push appends ev with the next sequence number. Caller holds q.mu.
func (q *Queue) push(ev Event) {
	heap.Push(&q.items, item{ev: ev, seq: q.seq})
	q.seq++
	q.notEmpty.Signal()
}

// waitUntil blocks on cond until it is signalled or the deadline passes.
// Caller holds q.mu and re-checks its predicate afterwards; the timer
// broadcast guarantees the Wait wakes up near the deadline.
func (q *Queue) waitUntil(cond *sync.Cond, deadline time.Time) {
	t := time.AfterFunc(time.Until(deadline), cond.Broadcast)
	cond.Wait()
	t.Stop()
}
