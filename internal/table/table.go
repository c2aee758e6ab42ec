// Package table tracks physical table occupancy and its binding to
// orders. Binding and releasing are the only mutations performed here;
// everything else about an order's life belongs to the state machine.
package table

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the floor state of a table.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusOccupied    Status = "occupied"
	StatusReserved    Status = "reserved"
	StatusCleaning    Status = "cleaning"
	StatusUnavailable Status = "unavailable"
)

// Table is one physical table. A table binds at most one order at a
// time; OrderID and OccupiedAt are set only while Status is occupied.
type Table struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Capacity   int       `json:"capacity"`
	Status     Status    `json:"status"`
	OrderID    string    `json:"orderId,omitempty"`
	OccupiedAt time.Time `json:"occupiedAt,omitzero"`
}

// ErrUnknownTable reports a table id the manager has never seen.
var ErrUnknownTable = errors.New("unknown table")

// OccupiedError rejects a bind against a table already holding a
// different order.
type OccupiedError struct {
	TableID string
	OrderID string // the order currently bound
}

func (e *OccupiedError) Error() string {
	return fmt.Sprintf("table %s already occupied by order %s", e.TableID, e.OrderID)
}

// IsOccupied reports whether err is an OccupiedError.
func IsOccupied(err error) bool {
	var oe *OccupiedError
	return errors.As(err, &oe)
}

// Manager owns the table map for one venue. Safe for concurrent use;
// peer broadcasts race with local binds.
type Manager struct {
	mu     sync.Mutex
	tables map[string]*Table
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager over the given floor plan. Tables start
// in their configured status, or available when unset.
func NewManager(tables []Table, opts ...ManagerOption) *Manager {
	m := &Manager{
		tables: make(map[string]*Table, len(tables)),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for i := range tables {
		t := tables[i]
		if t.Status == "" {
			t.Status = StatusAvailable
		}
		m.tables[t.ID] = &t
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bind links an order to a table and marks it occupied.
//
// Binding the same order again is a no-op. A table holding a different
// order fails with OccupiedError; merge flows use Takeover instead.
func (m *Manager) Bind(tableID, orderID string) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableID]
	if !ok {
		return Table{}, fmt.Errorf("bind table %s: %w", tableID, ErrUnknownTable)
	}
	if t.Status == StatusOccupied && t.OrderID != orderID {
		return Table{}, &OccupiedError{TableID: tableID, OrderID: t.OrderID}
	}
	if t.OrderID != orderID {
		t.OccupiedAt = m.now()
	}
	t.Status = StatusOccupied
	t.OrderID = orderID
	return *t, nil
}

// Takeover rebinds the table to orderID regardless of the current
// binding. Exists for merge flows, where the consolidated order claims
// the table before its source orders are cancelled.
func (m *Manager) Takeover(tableID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableID]
	if !ok {
		return fmt.Errorf("takeover table %s: %w", tableID, ErrUnknownTable)
	}
	if t.OrderID != orderID {
		t.OccupiedAt = m.now()
	}
	t.Status = StatusOccupied
	t.OrderID = orderID
	return nil
}

// Release clears orderID's binding and returns the table to available.
// A release from an order that no longer holds the table is a no-op:
// after a merge takeover, the source orders' cancellations must not
// free the table from under the consolidated order. Releasing an
// unbound table is likewise a no-op.
func (m *Manager) Release(tableID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableID]
	if !ok {
		return fmt.Errorf("release table %s: %w", tableID, ErrUnknownTable)
	}
	if t.OrderID != "" && t.OrderID != orderID {
		return nil
	}
	t.Status = StatusAvailable
	t.OrderID = ""
	t.OccupiedAt = time.Time{}
	return nil
}

// SetStatus moves a table between non-occupied floor states (reserved,
// cleaning, unavailable, available). Occupied is entered through Bind
// only.
func (m *Manager) SetStatus(tableID string, status Status) error {
	if status == StatusOccupied {
		return fmt.Errorf("set table %s: occupied is entered via bind", tableID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableID]
	if !ok {
		return fmt.Errorf("set table %s: %w", tableID, ErrUnknownTable)
	}
	if t.Status == StatusOccupied {
		return &OccupiedError{TableID: tableID, OrderID: t.OrderID}
	}
	t.Status = status
	return nil
}

// OccupiedDuration reports how long the table has been occupied, for
// per-hour billing. Zero when the table is not occupied.
func (m *Manager) OccupiedDuration(tableID string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableID]
	if !ok {
		return 0, fmt.Errorf("table %s: %w", tableID, ErrUnknownTable)
	}
	if t.Status != StatusOccupied || t.OccupiedAt.IsZero() {
		return 0, nil
	}
	return m.now().Sub(t.OccupiedAt), nil
}

// Get returns a snapshot of one table.
func (m *Manager) Get(tableID string) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableID]
	if !ok {
		return Table{}, fmt.Errorf("table %s: %w", tableID, ErrUnknownTable)
	}
	return *t, nil
}

// List returns all tables sorted by id.
func (m *Manager) List() []Table {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Table, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
