package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
)

// Memory is an in-memory Store used in tests and as a stand-in remote
// when running a terminal without shared infrastructure.
//
// FailPuts, when set, makes every Put fail with the given error. The
// reconciler tests use it to simulate an unreachable remote.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	FailPuts error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*order.Order)}
}

// Get implements Store.
func (s *Memory) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// Put implements Store with the shared revision semantics.
func (s *Memory) Put(_ context.Context, o *order.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts != nil {
		return 0, s.FailPuts
	}
	if stored, ok := s.orders[o.ID]; ok {
		if o.Revision < stored.Revision {
			return 0, &ConflictError{OrderID: o.ID, Stored: stored.Revision, Proposed: o.Revision}
		}
		if o.Revision == stored.Revision {
			return stored.Revision, nil
		}
	}
	s.orders[o.ID] = o.Clone()
	return o.Revision, nil
}

// Delete implements Store.
func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

// List implements Store.
func (s *Memory) List(_ context.Context, f Filter) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*order.Order
	for _, o := range s.orders {
		if matches(o, f) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// MaxNumber implements Store.
func (s *Memory) MaxNumber(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, o := range s.orders {
		if o.Number > max {
			max = o.Number
		}
	}
	return max, nil
}

// Close implements Store.
func (s *Memory) Close() error { return nil }

// Len returns the number of stored orders. Test helper.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
