// Package events fans committed ledger events out to in-process subscribers
// (WebSocket streams, the Redis relay, tests).
//
// The engine publishes only after a command's transaction commits, so a
// subscriber never sees an event that was rolled back.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/pulse/internal/ledger"
)

// ErrClosed is returned by Subscription.Next once the subscription is closed
// and drained.
var ErrClosed = errors.New("subscription closed")

// Bus is an in-process publish/subscribe hub for committed events.
// Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Filter selects the events a subscription receives. The zero value accepts
// everything.
type Filter struct {
	PollID *ledger.PollID
	Types  []ledger.EventType
}

func (f Filter) match(ev ledger.Event) bool {
	if f.PollID != nil && (ev.PollID == nil || *ev.PollID != *f.PollID) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Subscription receives the events of a Bus that match its filter, in
// publish order.
type Subscription struct {
	bus    *Bus
	filter Filter
	q      *queue
}

// DefaultBuffer is the number of undelivered events a subscription holds
// before it starts dropping the oldest.
const DefaultBuffer = 1024

// Subscribe registers a new subscription with DefaultBuffer. Callers must
// Close it.
func (b *Bus) Subscribe(f Filter) *Subscription {
	return b.SubscribeBuffered(f, DefaultBuffer)
}

// SubscribeBuffered registers a subscription holding at most buffer
// undelivered events.
func (b *Bus) SubscribeBuffered(f Filter, buffer int) *Subscription {
	s := &Subscription{bus: b, filter: f, q: newQueue(buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.q.close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers events to every matching subscription. It never blocks on
// subscribers.
func (b *Bus) Publish(_ context.Context, evs []ledger.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		var matched []ledger.Event
		for _, ev := range evs {
			if s.filter.match(ev) {
				matched = append(matched, ev)
			}
		}
		if len(matched) > 0 {
			s.q.push(matched...)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription and rejects new ones.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for s := range b.subs {
		s.q.close()
		delete(b.subs, s)
	}
}

// Next blocks until an event is available, the subscription is closed and
// drained (ErrClosed), or ctx is done.
func (s *Subscription) Next(ctx context.Context) (ledger.Event, error) {
	for {
		if ev, ok := s.q.tryPop(); ok {
			return ev, nil
		}
		if s.q.isDrained() {
			return ledger.Event{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return ledger.Event{}, ctx.Err()
		case <-s.q.signal:
		}
	}
}

// Pending returns the number of buffered events.
func (s *Subscription) Pending() int {
	return s.q.len()
}

// Dropped returns how many events were discarded because the subscriber
// fell more than its buffer behind.
func (s *Subscription) Dropped() uint64 {
	return s.q.droppedCount()
}

// Close unregisters the subscription. Buffered events can still be drained
// with Next.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.q.close()
}
