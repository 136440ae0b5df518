package events

import (
	"sync"

	"github.com/roach88/pulse/internal/ledger"
)

// queue is a thread-safe FIFO of committed events holding at most capacity
// events.
//
// The publisher never blocks on a slow subscriber: Publish appends and
// signals, and a full queue drops its oldest events. The signal channel has
// a buffer of one so that multiple pushes coalesce into one wake-up.
type queue struct {
	mu       sync.Mutex
	events   []ledger.Event
	capacity int
	dropped  uint64
	closed   bool
	signal   chan struct{}
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{
		events:   make([]ledger.Event, 0, min(capacity, 16)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// push appends events. Returns false if the queue is closed.
func (q *queue) push(evs ...ledger.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, evs...)
	if over := len(q.events) - q.capacity; over > 0 {
		clear(q.events[:over])
		q.events = q.events[over:]
		q.dropped += uint64(over)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryPop removes the front event without blocking.
func (q *queue) tryPop() (ledger.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return ledger.Event{}, false
	}
	e := q.events[0]

	// Release the slot so the payload can be collected.
	q.events[0] = ledger.Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// close marks the queue closed and wakes any waiter.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// isDrained reports whether the queue is closed and empty.
func (q *queue) isDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *queue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
