package materialize

import (
	"sync"

	"github.com/roach88/recsync/internal/merge"
)

// changeQueue is a thread-safe FIFO of change notifications.
//
// The queue is unbounded so Notify never blocks the merge engine. A buffered
// channel of size 1 signals availability for context-aware waiting.
type changeQueue struct {
	mu      sync.Mutex
	changes []merge.Change
	closed  bool
	signal  chan struct{}
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		changes: make([]merge.Change, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends c. Returns false if the queue is closed.
func (q *changeQueue) Enqueue(c merge.Change) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.changes = append(q.changes, c)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front change without blocking.
func (q *changeQueue) TryDequeue() (merge.Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.changes) == 0 {
		return merge.Change{}, false
	}
	c := q.changes[0]
	q.changes[0] = merge.Change{}
	if len(q.changes) == 1 {
		q.changes = q.changes[:0]
	} else {
		q.changes = q.changes[1:]
	}
	return c, true
}

// Wait returns the availability signal. It is closed by Close.
func (q *changeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued changes.
func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.changes)
}

// Drained reports whether the queue is closed and empty.
func (q *changeQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.changes) == 0
}

// Close rejects further enqueues and wakes the consumer.
func (q *changeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
