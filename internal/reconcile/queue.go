package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
)

// entry is one queued order mutation awaiting remote propagation.
type entry struct {
	Order      *order.Order
	EnqueuedAt time.Time
}

// replayQueue is a thread-safe FIFO of order mutations that could not
// reach the remote store.
//
// The queue is unbounded: an offline terminal keeps trading, and every
// mutation must be retained until reconnect, however long that takes.
//
// A buffered signal channel (size 1) coalesces enqueue notifications so
// the replay loop can wait without polling and without missing wakeups.
type replayQueue struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
	signal  chan struct{}
}

func newReplayQueue() *replayQueue {
	return &replayQueue{
		entries: make([]entry, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends a mutation to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *replayQueue) Enqueue(e entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.entries = append(q.entries, e)

	// Non-blocking: a full buffer already means "work available".
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front entry without blocking.
func (q *replayQueue) TryDequeue() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// Requeue puts an entry back at the FRONT of the queue, preserving the
// original propagation order after a failed replay attempt.
func (q *replayQueue) Requeue(e entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.entries = append([]entry{e}, q.entries...)
}

// Wait blocks until an entry may be available or ctx is done.
func (q *replayQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.entries) > 0 {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case <-q.signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued entries.
func (q *replayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close marks the queue closed; further enqueues are dropped.
func (q *replayQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
