package table

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	return NewManager([]Table{
		{ID: "t1", Name: "Window 1", Capacity: 4},
		{ID: "t2", Name: "Window 2", Capacity: 2},
		{ID: "t3", Name: "Patio", Capacity: 6, Status: StatusReserved},
	}, WithClock(func() time.Time { return testTime }))
}

func TestBind(t *testing.T) {
	m := newTestManager()

	got, err := m.Bind("t1", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOccupied, got.Status)
	assert.Equal(t, "ord-1", got.OrderID)
	assert.Equal(t, testTime, got.OccupiedAt)
}

func TestBind_SameOrderIsNoop(t *testing.T) {
	m := newTestManager()

	_, err := m.Bind("t1", "ord-1")
	require.NoError(t, err)
	got, err := m.Bind("t1", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.OrderID)
}

func TestBind_OccupiedRejected(t *testing.T) {
	m := newTestManager()

	_, err := m.Bind("t1", "ord-1")
	require.NoError(t, err)

	_, err = m.Bind("t1", "ord-2")
	require.Error(t, err)
	assert.True(t, IsOccupied(err))

	got, err := m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.OrderID, "binding unchanged after rejection")
}

func TestTakeover(t *testing.T) {
	m := newTestManager()

	_, err := m.Bind("t1", "ord-1")
	require.NoError(t, err)

	require.NoError(t, m.Takeover("t1", "ord-merged"))
	got, err := m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusOccupied, got.Status)
	assert.Equal(t, "ord-merged", got.OrderID)

	assert.ErrorIs(t, m.Takeover("nope", "ord-merged"), ErrUnknownTable)
}

func TestBind_UnknownTable(t *testing.T) {
	m := newTestManager()

	_, err := m.Bind("nope", "ord-1")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestRelease(t *testing.T) {
	m := newTestManager()

	_, err := m.Bind("t1", "ord-1")
	require.NoError(t, err)
	require.NoError(t, m.Release("t1", "ord-1"))

	got, err := m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)
	assert.Empty(t, got.OrderID)
	assert.True(t, got.OccupiedAt.IsZero())

	// Releasing an unbound table stays a no-op.
	require.NoError(t, m.Release("t1", "ord-1"))
}

func TestRelease_WrongOrderIgnored(t *testing.T) {
	m := newTestManager()

	_, err := m.Bind("t1", "ord-1")
	require.NoError(t, err)
	require.NoError(t, m.Takeover("t1", "ord-merged"))

	// ord-1 no longer holds the table; its release leaves the
	// takeover binding in place.
	require.NoError(t, m.Release("t1", "ord-1"))
	got, err := m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusOccupied, got.Status)
	assert.Equal(t, "ord-merged", got.OrderID)
}

func TestOccupiedDuration(t *testing.T) {
	clock := testTime
	m := NewManager([]Table{{ID: "t1"}}, WithClock(func() time.Time { return clock }))

	d, err := m.OccupiedDuration("t1")
	require.NoError(t, err)
	assert.Zero(t, d, "available table has no occupancy")

	_, err = m.Bind("t1", "ord-1")
	require.NoError(t, err)

	clock = clock.Add(90 * time.Minute)
	d, err = m.OccupiedDuration("t1")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)
}

func TestSetStatus(t *testing.T) {
	m := newTestManager()

	require.NoError(t, m.SetStatus("t2", StatusCleaning))
	got, err := m.Get("t2")
	require.NoError(t, err)
	assert.Equal(t, StatusCleaning, got.Status)

	// Occupied is never entered directly.
	assert.Error(t, m.SetStatus("t2", StatusOccupied))

	// An occupied table keeps its binding against floor-state edits.
	_, err = m.Bind("t1", "ord-1")
	require.NoError(t, err)
	err = m.SetStatus("t1", StatusCleaning)
	assert.True(t, IsOccupied(err))
}

func TestList(t *testing.T) {
	m := newTestManager()

	tables := m.List()
	require.Len(t, tables, 3)
	assert.Equal(t, "t1", tables[0].ID)
	assert.Equal(t, StatusReserved, tables[2].Status, "configured status kept")
}

func TestConcurrentBind_OneWinner(t *testing.T) {
	m := newTestManager()

	var wg sync.WaitGroup
	wins := make(chan string, 8)
	for i := 0; i < 8; i++ {
		orderID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Bind("t1", orderID); err == nil {
				wins <- orderID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	got, err := m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.OrderID)
}
