package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tay1862/kinsaep-pos-sub005/internal/cart"
	"github.com/tay1862/kinsaep-pos-sub005/internal/pricing"
	"github.com/tay1862/kinsaep-pos-sub005/internal/promotion"
	"github.com/tay1862/kinsaep-pos-sub005/internal/table"
)

var testTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type fakeStock struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func (s *fakeStock) Decrement(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("inventory service down")
	}
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[productID] += qty
	return nil
}

type fakeTables struct {
	released  []string
	takeovers []string
}

func (t *fakeTables) Release(tableID, orderID string) error {
	t.released = append(t.released, tableID+":"+orderID)
	return nil
}

func (t *fakeTables) Takeover(tableID, orderID string) error {
	t.takeovers = append(t.takeovers, tableID+":"+orderID)
	return nil
}

type fakeUsage struct {
	records map[string]int
}

func (u *fakeUsage) Record(orderID string, _ []promotion.Applied) error {
	if u.records == nil {
		u.records = make(map[string]int)
	}
	u.records[orderID]++
	return nil
}

func testItems() []cart.Item {
	return []cart.Item{
		{ProductID: "p1", Name: "larb", UnitPrice: 10000, Quantity: 2, TrackStock: true},
		{ProductID: "p2", Name: "sticky rice", UnitPrice: 5000, Quantity: 1},
	}
}

func newTestMachine(t *testing.T, opts ...MachineOption) *Machine {
	t.Helper()
	base := []MachineOption{
		WithClock(func() time.Time { return testTime }),
		WithAuthorizer(RoleAuthorizer{Elevated: map[string]bool{"manager": true}}),
	}
	ids := NewFixedGenerator("ord-1", "ord-2", "ord-3", "ord-4", "ord-5")
	return NewMachine(ids, slog.New(slog.NewTextHandler(io.Discard, nil)), append(base, opts...)...)
}

func mustCreate(t *testing.T, m *Machine, in CreateInput) *Order {
	t.Helper()
	o, err := m.Create(in)
	require.NoError(t, err)
	return o
}

func pendingOrder(t *testing.T, m *Machine) *Order {
	t.Helper()
	items := testItems()
	return mustCreate(t, m, CreateInput{
		Items:     items,
		Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type:      TypeDineIn,
	})
}

func TestCreate(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)

	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, "POS-20260314-0001", o.Code)
	assert.Equal(t, int64(1), o.Number)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, int64(1), o.Revision)
	require.Len(t, o.Items, 2)
	assert.Equal(t, KitchenNew, o.Items[0].Kitchen)
	assert.Equal(t, int64(20000), int64(o.Items[0].LineTotal))
	assert.Equal(t, int64(25000), int64(o.Totals.Total))
	assert.Equal(t, 1, o.Priority)

	second := pendingOrder(t, m)
	assert.Equal(t, int64(2), second.Number)
	assert.Equal(t, "POS-20260314-0002", second.Code)
}

func TestCreate_Draft(t *testing.T) {
	m := newTestMachine(t)
	items := testItems()
	o := mustCreate(t, m, CreateInput{
		Items:     items,
		Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type:      TypeTakeAway,
		Draft:     true,
	})
	assert.Equal(t, StatusDraft, o.Status)
}

func TestCreate_Validation(t *testing.T) {
	m := newTestMachine(t)

	_, err := m.Create(CreateInput{Type: TypeDineIn})
	assert.True(t, IsValidation(err))

	_, err = m.Create(CreateInput{Items: testItems(), Type: Type("drive_through")})
	assert.True(t, IsValidation(err))

	bad := testItems()
	bad[0].Quantity = 0
	_, err = m.Create(CreateInput{Items: bad, Type: TypeDineIn})
	assert.True(t, IsValidation(err))
}

func TestTransition_HappyPath(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, o, StatusProcessing, Meta{Actor: "cashier"}))
	require.NoError(t, m.Transition(ctx, o, StatusCompleted, Meta{
		Actor: "cashier", Method: "cash", Proof: "rcpt-1",
	}))

	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, "cash", o.PaymentMethod)
	assert.Equal(t, "rcpt-1", o.PaymentProof)
	assert.Equal(t, int64(3), o.Revision)
	require.Len(t, o.Audit, 2)
	assert.Equal(t, StatusPending, o.Audit[0].From)
	assert.Equal(t, StatusProcessing, o.Audit[0].To)
}

func TestTransition_RejectsPairsOutsideTable(t *testing.T) {
	all := []Status{
		StatusDraft, StatusPending, StatusProcessing, StatusCompleted,
		StatusCancelled, StatusVoided, StatusRefunded,
	}
	for _, from := range all {
		for _, to := range all {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				m := newTestMachine(t)
				o := pendingOrder(t, m)
				o.Status = from

				err := m.Transition(context.Background(), o, to, Meta{Actor: "manager"})
				if allowed(from, to) {
					assert.NoError(t, err)
				} else {
					assert.True(t, IsInvalidTransition(err), "expected rejection for %s -> %s", from, to)
					assert.Equal(t, from, o.Status, "status must not change on rejection")
				}
			})
		}
	}
}

func TestTransition_CompletedToPendingFails(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)
	o.Status = StatusCompleted

	err := m.Transition(context.Background(), o, StatusPending, Meta{})
	assert.True(t, IsInvalidTransition(err))
}

func TestVoid_RequiresPermission(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)

	err := m.Void(context.Background(), o, "customer walked out", "cashier")
	assert.True(t, IsPermission(err))
	assert.Equal(t, StatusPending, o.Status, "status unchanged on permission error")

	require.NoError(t, m.Void(context.Background(), o, "customer walked out", "manager"))
	assert.Equal(t, StatusVoided, o.Status)
	require.Len(t, o.Audit, 1)
	assert.Equal(t, "customer walked out", o.Audit[0].Reason)
	assert.Equal(t, "manager", o.Audit[0].Actor)
}

func TestRefund_RequiresPermission(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)
	o.Status = StatusCompleted

	err := m.Transition(context.Background(), o, StatusRefunded, Meta{Actor: "cashier"})
	assert.True(t, IsPermission(err))

	require.NoError(t, m.Transition(context.Background(), o, StatusRefunded, Meta{
		Actor: "manager", Reason: "wrong order",
	}))
	assert.Equal(t, StatusRefunded, o.Status)
}

func TestCompletion_DecrementsTrackedStockOnly(t *testing.T) {
	stock := &fakeStock{}
	m := newTestMachine(t, WithStock(stock))
	o := pendingOrder(t, m)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, o, StatusProcessing, Meta{}))
	require.NoError(t, m.Transition(ctx, o, StatusCompleted, Meta{Method: "cash"}))

	// p1 tracks stock, p2 does not.
	assert.Equal(t, map[string]int{"p1": 2}, stock.calls)
}

func TestCompletion_StockFailureDoesNotBlock(t *testing.T) {
	stock := &fakeStock{fail: true}
	m := newTestMachine(t, WithStock(stock))
	o := pendingOrder(t, m)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, o, StatusProcessing, Meta{}))
	require.NoError(t, m.Transition(ctx, o, StatusCompleted, Meta{Method: "cash"}))
	assert.Equal(t, StatusCompleted, o.Status)
}

func TestCompletion_ReleasesTableAndLogsUsage(t *testing.T) {
	tables := &fakeTables{}
	usage := &fakeUsage{}
	m := newTestMachine(t, WithTables(tables), WithUsage(usage))

	items := testItems()
	o := mustCreate(t, m, CreateInput{
		Items:     items,
		Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type:      TypeDineIn,
		TableID:   "t7",
		Promotions: []promotion.Applied{
			{PromotionID: "promo1", Amount: 1000},
		},
	})
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, o, StatusProcessing, Meta{}))
	require.NoError(t, m.Transition(ctx, o, StatusCompleted, Meta{Method: "cash"}))

	assert.Equal(t, []string{"t7:ord-1"}, tables.released)
	assert.Equal(t, map[string]int{"ord-1": 1}, usage.records)
}

func TestCancellation_ReleasesTable(t *testing.T) {
	tables := &fakeTables{}
	m := newTestMachine(t, WithTables(tables))

	items := testItems()
	o := mustCreate(t, m, CreateInput{
		Items:     items,
		Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type:      TypeDineIn,
		TableID:   "t7",
	})

	err := m.Transition(context.Background(), o, StatusCancelled, Meta{
		Actor: "cashier", Reason: "guests left",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t7:ord-1"}, tables.released,
		"a cancelled dine-in order must free its table")
}

func TestVoid_ReleasesTable(t *testing.T) {
	tables := &fakeTables{}
	m := newTestMachine(t, WithTables(tables))

	items := testItems()
	o := mustCreate(t, m, CreateInput{
		Items:     items,
		Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type:      TypeDineIn,
		TableID:   "t7",
	})

	require.NoError(t, m.Void(context.Background(), o, "mistake", "manager"))
	assert.Equal(t, []string{"t7:ord-1"}, tables.released)
}

func TestMerge(t *testing.T) {
	m := newTestMachine(t)
	items := testItems()

	a := mustCreate(t, m, CreateInput{
		Items: items, Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type: TypeDineIn, TableID: "t3",
	})
	b := mustCreate(t, m, CreateInput{
		Items: items[:1], Breakdown: pricing.Compute(items[:1], pricing.Spec{}),
		Type: TypeDineIn, TableID: "t3",
	})

	merged, err := m.Merge(context.Background(), []*Order{a, b}, "manager")
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, merged.Status)
	assert.Equal(t, "t3", merged.TableID)
	assert.Len(t, merged.Items, 3)
	assert.Equal(t, int64(45000), int64(merged.Totals.Total))

	assert.Equal(t, StatusCancelled, a.Status)
	assert.Equal(t, StatusCancelled, b.Status)
	require.Len(t, a.Audit, 1)
	assert.Equal(t, "merged into "+merged.Code, a.Audit[0].Reason)
}

// Cancelling the merge sources must not free the table: the merged
// draft took it over first, and the floor plan ignores a release from
// an order that no longer holds the binding.
func TestMerge_TableStaysWithMergedOrder(t *testing.T) {
	floor := table.NewManager([]table.Table{{ID: "t3", Capacity: 6}})
	m := newTestMachine(t, WithTables(floor))
	items := testItems()

	a := mustCreate(t, m, CreateInput{
		Items: items, Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type: TypeDineIn, TableID: "t3",
	})
	_, err := floor.Bind("t3", a.ID)
	require.NoError(t, err)
	b := mustCreate(t, m, CreateInput{
		Items: items[:1], Breakdown: pricing.Compute(items[:1], pricing.Spec{}),
		Type: TypeDineIn, TableID: "t3",
	})

	merged, err := m.Merge(context.Background(), []*Order{a, b}, "manager")
	require.NoError(t, err)

	got, err := floor.Get("t3")
	require.NoError(t, err)
	assert.Equal(t, table.StatusOccupied, got.Status)
	assert.Equal(t, merged.ID, got.OrderID)
}

func TestMerge_Validation(t *testing.T) {
	m := newTestMachine(t)
	items := testItems()
	a := mustCreate(t, m, CreateInput{
		Items: items, Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type: TypeDineIn, TableID: "t3",
	})
	b := mustCreate(t, m, CreateInput{
		Items: items, Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type: TypeDineIn, TableID: "t4",
	})

	_, err := m.Merge(context.Background(), []*Order{a}, "manager")
	assert.True(t, IsValidation(err), "single order")

	_, err = m.Merge(context.Background(), []*Order{a, b}, "manager")
	assert.True(t, IsValidation(err), "different tables")

	b.TableID = "t3"
	b.Status = StatusCompleted
	_, err = m.Merge(context.Background(), []*Order{a, b}, "manager")
	assert.True(t, IsValidation(err), "completed order")
}

func TestUpdateKitchen(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)

	require.NoError(t, m.UpdateKitchen(o, 0, KitchenPreparing))
	require.NoError(t, m.UpdateKitchen(o, 0, KitchenReady))
	assert.Nil(t, o.PreparedAt, "not all items ready yet")

	require.NoError(t, m.UpdateKitchen(o, 1, KitchenReady))
	require.NotNil(t, o.PreparedAt)
	assert.Equal(t, testTime, *o.PreparedAt)

	require.NoError(t, m.UpdateKitchen(o, 0, KitchenServed))
	require.NoError(t, m.UpdateKitchen(o, 1, KitchenServed))
	require.NotNil(t, o.ServedAt)

	err := m.UpdateKitchen(o, 0, KitchenPreparing)
	assert.True(t, IsValidation(err), "kitchen status cannot move backwards")

	assert.Error(t, m.UpdateKitchen(o, 9, KitchenReady))
}

// Concurrent transitions of the same order must serialize: exactly one
// of N competing completion attempts wins.
func TestTransition_ConcurrentCompletionsSerialize(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)
	require.NoError(t, m.Transition(context.Background(), o, StatusProcessing, Meta{}))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Transition(context.Background(), o, StatusCompleted, Meta{Method: "cash"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, IsInvalidTransition(err))
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, StatusCompleted, o.Status)
}

func TestClone(t *testing.T) {
	m := newTestMachine(t)
	o := pendingOrder(t, m)
	o.Tags = []string{"rush"}

	c := o.Clone()
	c.Items[0].Quantity = 99
	c.Tags[0] = "changed"
	c.Audit = append(c.Audit, StatusChange{From: StatusPending, To: StatusVoided})

	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, "rush", o.Tags[0])
	assert.Empty(t, o.Audit)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, 1, PriorityFor(49999))
	assert.Equal(t, 5, PriorityFor(50000))
	assert.Equal(t, 10, PriorityFor(100000))
}
