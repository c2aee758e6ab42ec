package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tay1862/kinsaep-pos-sub005/internal/cart"
	"github.com/tay1862/kinsaep-pos-sub005/internal/pricing"
	"github.com/tay1862/kinsaep-pos-sub005/internal/promotion"
)

// transitions is the closed lifecycle table. Anything not listed is
// rejected with CodeInvalidTransition.
//
//	draft      → pending, voided
//	pending    → processing, cancelled, voided
//	processing → completed, cancelled, voided
//	completed  → refunded
var transitions = map[Status][]Status{
	StatusDraft:      {StatusPending, StatusVoided},
	StatusPending:    {StatusProcessing, StatusCancelled, StatusVoided},
	StatusProcessing: {StatusCompleted, StatusCancelled, StatusVoided},
	StatusCompleted:  {StatusRefunded},
}

// Stock decrements product inventory when an order completes.
type Stock interface {
	Decrement(ctx context.Context, productID string, qty int) error
}

// Tables is the floor-plan collaborator.
//
// Release must ignore a table bound to a different order: a merge
// takeover rebinds the table to the consolidated draft, and the source
// orders' cancellations must not free it from under that draft.
type Tables interface {
	Takeover(tableID, orderID string) error
	Release(tableID, orderID string) error
}

// UsageRecorder logs promotion usage for completed orders.
// *promotion.Log satisfies this.
type UsageRecorder interface {
	Record(orderID string, applied []promotion.Applied) error
}

// CouponRecorder logs coupon redemption for completed orders.
type CouponRecorder interface {
	RecordCoupon(orderID, code string) error
}

// Authorizer gates privileged transitions.
type Authorizer interface {
	CanVoid(actor string) bool
	CanRefund(actor string) bool
}

// RoleAuthorizer grants void/refund to a fixed set of elevated actors.
type RoleAuthorizer struct {
	Elevated map[string]bool
}

func (a RoleAuthorizer) CanVoid(actor string) bool   { return a.Elevated[actor] }
func (a RoleAuthorizer) CanRefund(actor string) bool { return a.Elevated[actor] }

// Meta carries transition context: who did it, why, and (on completion)
// how it was paid.
type Meta struct {
	Actor  string
	Reason string
	Method string
	Proof  string
}

// CreateInput is the checkout-time snapshot an order is created from.
type CreateInput struct {
	Items      []cart.Item
	Breakdown  pricing.Breakdown
	Type       Type
	TableID    string
	Promotions []promotion.Applied
	Coupon     *AppliedCoupon
	Staff      string
	Tags       []string

	// Draft creates the order held (parked) instead of pending.
	// Held drafts stay on the creating terminal until resumed.
	Draft bool
}

// Machine validates and applies order lifecycle transitions.
//
// Thread-safety model:
//   - every mutation of one order is serialized by a per-order-id mutex,
//     because peer broadcast merges race with local edits
//   - distinct orders proceed concurrently
//
// All side effects of completion (stock decrement, table release, usage
// logging) are best-effort: a failure is logged and never blocks the
// completion itself.
type Machine struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	seq   atomic.Int64

	ids     IDGenerator
	stock   Stock
	tables  Tables
	usage   UsageRecorder
	coupons CouponRecorder
	auth    Authorizer
	now     func() time.Time
	log     *slog.Logger
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithStock sets the inventory collaborator.
func WithStock(s Stock) MachineOption { return func(m *Machine) { m.stock = s } }

// WithTables sets the floor-plan collaborator.
func WithTables(t Tables) MachineOption { return func(m *Machine) { m.tables = t } }

// WithUsage sets the promotion usage recorder.
func WithUsage(u UsageRecorder) MachineOption { return func(m *Machine) { m.usage = u } }

// WithCoupons sets the coupon redemption recorder.
func WithCoupons(c CouponRecorder) MachineOption { return func(m *Machine) { m.coupons = c } }

// WithAuthorizer sets the permission gate for void/refund.
func WithAuthorizer(a Authorizer) MachineOption { return func(m *Machine) { m.auth = a } }

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) MachineOption { return func(m *Machine) { m.now = now } }

// WithSequenceStart seeds the order number sequence, typically from the
// highest number already in the local store.
func WithSequenceStart(n int64) MachineOption {
	return func(m *Machine) { m.seq.Store(n) }
}

// NewMachine creates a Machine. ids must not be nil; collaborators left
// unset are skipped (nil stock means no inventory tracking).
func NewMachine(ids IDGenerator, log *slog.Logger, opts ...MachineOption) *Machine {
	if log == nil {
		log = slog.Default()
	}
	m := &Machine{
		locks: make(map[string]*sync.Mutex),
		ids:   ids,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockFor returns the mutex serializing mutations of one order id.
func (m *Machine) lockFor(orderID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[orderID] = l
	}
	return l
}

// Create builds a new order from a cart snapshot. The order starts in
// pending (or draft when in.Draft), carries a monotonic number and an
// immutable human code, and owns a deep copy of the items.
func (m *Machine) Create(in CreateInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, NewValidationError("order requires at least one item")
	}
	if !ValidType(in.Type) {
		return nil, NewValidationError(fmt.Sprintf("unknown order type %q", in.Type))
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return nil, NewValidationError(fmt.Sprintf("item %s has non-positive quantity", it.ProductID))
		}
	}

	items := make([]Item, len(in.Items))
	for i, ci := range in.Items {
		mods := make([]ItemMod, len(ci.Modifiers))
		for j, cm := range ci.Modifiers {
			mods[j] = ItemMod{ID: cm.ID, Name: cm.Name, Delta: cm.Delta}
		}
		items[i] = Item{
			ProductID:  ci.ProductID,
			Name:       ci.Name,
			CategoryID: ci.CategoryID,
			UnitPrice:  ci.UnitPrice,
			Quantity:   ci.Quantity,
			Modifiers:  mods,
			Note:       ci.Note,
			LineTotal:  ci.LineTotal(),
			TrackStock: ci.TrackStock,
			Kitchen:    KitchenNew,
		}
	}

	status := StatusPending
	if in.Draft {
		status = StatusDraft
	}

	now := m.now().UTC()
	number := m.seq.Add(1)
	o := &Order{
		ID:     m.ids.Generate(),
		Code:   fmt.Sprintf("POS-%s-%04d", now.Format("20060102"), number),
		Number: number,
		Status: status,
		Type:   in.Type,
		Items:  items,
		Totals: Totals{
			Subtotal:     in.Breakdown.Subtotal,
			Discount:     in.Breakdown.DiscountTotal,
			Tax:          in.Breakdown.TaxAmount,
			TaxInclusive: in.Breakdown.TaxInclusive,
			Tip:          in.Breakdown.TipAmount,
			DeliveryFee:  in.Breakdown.DeliveryFee,
			Total:        in.Breakdown.Total,
			TotalSats:    in.Breakdown.TotalSats,
		},
		Revision:      1,
		Promotions:    append([]promotion.Applied(nil), in.Promotions...),
		Coupon:        in.Coupon,
		TableID:       in.TableID,
		Priority:      PriorityFor(in.Breakdown.Total),
		Tags:          append([]string(nil), in.Tags...),
		AssignedStaff: in.Staff,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return o, nil
}

// Transition moves an order to target after validating against the
// lifecycle table. The status change, revision bump, and audit entry
// commit together; completion side effects run after the commit and are
// best-effort.
func (m *Machine) Transition(ctx context.Context, o *Order, target Status, meta Meta) error {
	l := m.lockFor(o.ID)
	l.Lock()
	defer l.Unlock()

	if !allowed(o.Status, target) {
		return NewTransitionError(o.ID, o.Status, target)
	}
	switch target {
	case StatusVoided:
		if m.auth == nil || !m.auth.CanVoid(meta.Actor) {
			return NewPermissionError(o.ID, "void", meta.Actor)
		}
	case StatusRefunded:
		if m.auth == nil || !m.auth.CanRefund(meta.Actor) {
			return NewPermissionError(o.ID, "refund", meta.Actor)
		}
	}

	from := o.Status
	now := m.now().UTC()
	o.Status = target
	o.UpdatedAt = now
	o.Revision++
	o.Audit = append(o.Audit, StatusChange{
		From:   from,
		To:     target,
		Actor:  meta.Actor,
		Reason: meta.Reason,
		At:     now,
	})
	switch target {
	case StatusCompleted:
		o.PaymentMethod = meta.Method
		o.PaymentProof = meta.Proof
		m.onCompleted(ctx, o)
	case StatusCancelled, StatusVoided:
		// A cancelled or voided order abandons the floor the same way a
		// completed one does, so all three release the table.
		m.releaseTable(o)
	}

	m.log.Info("order transition",
		"order", o.Code, "from", from, "to", target, "actor", meta.Actor)
	return nil
}

// Void is the permission-gated path to the voided status. It records the
// reason and actor in the audit trail.
//
// Voiding does NOT restore decremented stock: stock only moves on
// completion, and a completed order can no longer be voided, so there is
// never stock to give back. Refund-side restocking is the inventory
// collaborator's decision, not this machine's.
func (m *Machine) Void(ctx context.Context, o *Order, reason, actor string) error {
	return m.Transition(ctx, o, StatusVoided, Meta{Actor: actor, Reason: reason})
}

// Merge combines the items of several orders bound to the same table
// into one draft order for re-checkout, marking each source cancelled
// with an audit note. The table stays occupied by the merged draft.
// Used when guests request a consolidated bill.
func (m *Machine) Merge(ctx context.Context, orders []*Order, actor string) (*Order, error) {
	if len(orders) < 2 {
		return nil, NewValidationError("merge requires at least two orders")
	}
	table := orders[0].TableID
	if table == "" {
		return nil, NewValidationError("merge requires table-bound orders")
	}
	for _, o := range orders {
		if o.TableID != table {
			return nil, NewValidationError("merge requires orders bound to the same table")
		}
		if o.Status != StatusPending && o.Status != StatusProcessing {
			return nil, &Error{
				Code:    CodeValidation,
				Message: fmt.Sprintf("cannot merge order in status %s", o.Status),
				OrderID: o.ID,
			}
		}
	}

	var items []cart.Item
	for _, o := range orders {
		for _, it := range o.Items {
			mods := make([]cart.Modifier, len(it.Modifiers))
			for j, im := range it.Modifiers {
				mods[j] = cart.Modifier{ID: im.ID, Name: im.Name, Delta: im.Delta}
			}
			items = append(items, cart.Item{
				ProductID:  it.ProductID,
				Name:       it.Name,
				CategoryID: it.CategoryID,
				UnitPrice:  it.UnitPrice,
				Quantity:   it.Quantity,
				Modifiers:  mods,
				Note:       it.Note,
				TrackStock: it.TrackStock,
			})
		}
	}

	// Discounts, tax, and tip are not carried over: the merged draft is
	// re-priced at re-checkout.
	merged, err := m.Create(CreateInput{
		Items:     items,
		Breakdown: pricing.Compute(items, pricing.Spec{}),
		Type:      orders[0].Type,
		TableID:   table,
		Staff:     actor,
		Draft:     true,
	})
	if err != nil {
		return nil, err
	}

	// The consolidated draft takes over the table before the sources are
	// cancelled, so their releases find the binding no longer theirs.
	if m.tables != nil {
		if err := m.tables.Takeover(table, merged.ID); err != nil {
			m.log.Error("table takeover failed", "order", merged.Code, "table", table, "error", err)
		}
	}

	for _, o := range orders {
		note := fmt.Sprintf("merged into %s", merged.Code)
		if err := m.Transition(ctx, o, StatusCancelled, Meta{Actor: actor, Reason: note}); err != nil {
			return nil, fmt.Errorf("cancel source order %s: %w", o.Code, err)
		}
	}
	return merged, nil
}

// kitchenRank orders kitchen sub-states for forward-only progression.
var kitchenRank = map[KitchenStatus]int{
	KitchenNew:       0,
	KitchenPreparing: 1,
	KitchenReady:     2,
	KitchenServed:    3,
}

// UpdateKitchen advances one item's fulfillment sub-state. Moving
// backwards is rejected. When every item reaches ready the order's
// PreparedAt stamps; when every item is served, ServedAt.
func (m *Machine) UpdateKitchen(o *Order, idx int, target KitchenStatus) error {
	l := m.lockFor(o.ID)
	l.Lock()
	defer l.Unlock()

	if idx < 0 || idx >= len(o.Items) {
		return NewValidationError("item index out of range")
	}
	rank, ok := kitchenRank[target]
	if !ok {
		return NewValidationError(fmt.Sprintf("unknown kitchen status %q", target))
	}
	if rank < kitchenRank[o.Items[idx].Kitchen] {
		return &Error{
			Code:    CodeValidation,
			Message: fmt.Sprintf("kitchen status cannot move back from %s to %s", o.Items[idx].Kitchen, target),
			OrderID: o.ID,
		}
	}

	now := m.now().UTC()
	o.Items[idx].Kitchen = target
	o.UpdatedAt = now
	o.Revision++

	if o.PreparedAt == nil && allItemsAtLeast(o.Items, KitchenReady) {
		t := now
		o.PreparedAt = &t
	}
	if o.ServedAt == nil && allItemsAtLeast(o.Items, KitchenServed) {
		t := now
		o.ServedAt = &t
	}
	return nil
}

func allItemsAtLeast(items []Item, s KitchenStatus) bool {
	for _, it := range items {
		if kitchenRank[it.Kitchen] < kitchenRank[s] {
			return false
		}
	}
	return true
}

// onCompleted runs the completion side effects. Each is best-effort:
// failures are logged and never undo the completion.
func (m *Machine) onCompleted(ctx context.Context, o *Order) {
	if m.stock != nil {
		for _, it := range o.Items {
			if !it.TrackStock {
				continue
			}
			if err := m.stock.Decrement(ctx, it.ProductID, it.Quantity); err != nil {
				m.log.Error("stock decrement failed",
					"order", o.Code, "product", it.ProductID, "error", err)
			}
		}
	}
	m.releaseTable(o)
	if m.usage != nil && len(o.Promotions) > 0 {
		if err := m.usage.Record(o.ID, o.Promotions); err != nil {
			m.log.Error("promotion usage logging failed", "order", o.Code, "error", err)
		}
	}
	if m.coupons != nil && o.Coupon != nil {
		if err := m.coupons.RecordCoupon(o.ID, o.Coupon.Code); err != nil {
			m.log.Error("coupon usage logging failed", "order", o.Code, "error", err)
		}
	}
}

// releaseTable frees the order's table binding. Best-effort: the floor
// plan ignores a release from an order that no longer holds the table.
func (m *Machine) releaseTable(o *Order) {
	if m.tables == nil || o.TableID == "" {
		return
	}
	if err := m.tables.Release(o.TableID, o.ID); err != nil {
		m.log.Error("table release failed", "order", o.Code, "table", o.TableID, "error", err)
	}
}

func allowed(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
