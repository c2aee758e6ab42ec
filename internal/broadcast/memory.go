package broadcast

import (
	"context"
	"sort"
	"sync"
)

// InMemory is a Bus connecting terminals inside one process. Tests use
// it to exercise reconciliation without a broker; Drop simulates the
// channel's best-effort delivery.
//
// Thread-safety: safe for concurrent use.
type InMemory struct {
	mu   sync.Mutex
	subs map[int]subscriber
	next int

	// Drop, when true, silently discards every publish.
	Drop bool
}

type subscriber struct {
	terminalID string
	handler    Handler
}

// NewInMemory creates an empty in-process bus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[int]subscriber)}
}

// SubscribeAs registers a handler for the given terminal id, which is
// used to filter out the terminal's own publishes.
func (b *InMemory) SubscribeAs(terminalID string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{terminalID: terminalID, handler: handler}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Subscribe implements Bus with no self-filtering (no terminal id).
func (b *InMemory) Subscribe(handler Handler) (func(), error) {
	return b.SubscribeAs("", handler), nil
}

// Publish implements Bus. Delivery is synchronous and in registration
// order; the envelope's own TerminalID keeps it from echoing back.
func (b *InMemory) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	if b.Drop {
		b.mu.Unlock()
		return nil
	}
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]subscriber, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, s := range handlers {
		if s.terminalID != "" && s.terminalID == env.TerminalID {
			continue
		}
		s.handler(env)
	}
	return nil
}

// Close implements Bus.
func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]subscriber)
	return nil
}
