// Package terminal is the per-terminal event loop glue: one Session
// owns the active cart, recomputes totals and promotions on every
// mutation, and drives checkout through the payment, order, split, and
// reconciliation layers.
//
// A Session is owned by a single event loop and is not safe for
// concurrent use; the layers below it carry their own locks because
// peer broadcasts race with local edits.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tay1862/kinsaep-pos-sub005/internal/broadcast"
	"github.com/tay1862/kinsaep-pos-sub005/internal/cart"
	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
	"github.com/tay1862/kinsaep-pos-sub005/internal/payment"
	"github.com/tay1862/kinsaep-pos-sub005/internal/pricing"
	"github.com/tay1862/kinsaep-pos-sub005/internal/promotion"
	"github.com/tay1862/kinsaep-pos-sub005/internal/reconcile"
	"github.com/tay1862/kinsaep-pos-sub005/internal/split"
	"github.com/tay1862/kinsaep-pos-sub005/internal/store"
	"github.com/tay1862/kinsaep-pos-sub005/internal/table"
)

// ReceiptGenerator produces a shareable reference (e-bill link, print
// job id) for a completed order. Implementations live outside the
// engine.
type ReceiptGenerator interface {
	Generate(ctx context.Context, o *order.Order) (string, error)
}

// Settings are the venue-level pricing defaults injected at
// construction. They replace ambient global configuration: the session
// never reads settings from anywhere else.
type Settings struct {
	Tax        pricing.TaxSpec
	Settlement pricing.SettlementSpec
	TipPresets []money.Bps
	Staff      string
}

// Deps wires a Session to its collaborators. Machine, Processor,
// Reconciler, and Local are required; the rest may be nil.
type Deps struct {
	Machine    *order.Machine
	Processor  *payment.Processor
	Splits     *split.Coordinator
	Reconciler *reconcile.Reconciler
	Local      store.Store
	Tables     *table.Manager
	Catalog    []promotion.Rule
	Receipts   ReceiptGenerator
	Log        *slog.Logger
}

// Session is the mutable terminal state between checkouts.
type Session struct {
	deps     Deps
	settings Settings
	log      *slog.Logger

	cart      *cart.Cart
	orderType order.Type
	tableID   string

	discount    pricing.ManualDiscount
	tipPercent  money.Bps
	deliveryFee money.Money
	coupon      *order.AppliedCoupon

	applied   []promotion.Applied
	breakdown pricing.Breakdown
}

// NewSession builds an idle session with an empty cart.
func NewSession(deps Deps, settings Settings) *Session {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		deps:      deps,
		settings:  settings,
		log:       log,
		cart:      cart.New(),
		orderType: order.TypeDineIn,
	}
	s.recompute()
	return s
}

// recompute re-evaluates promotions and the monetary breakdown. Called
// after every cart or adjustment mutation; there is no debouncing at
// this layer.
func (s *Session) recompute() {
	items := s.cart.Items()
	s.applied = promotion.Evaluate(items, s.deps.Catalog)

	spec := pricing.Spec{
		Discount:           s.discount,
		Tax:                s.settings.Tax,
		TipPercent:         s.tipPercent,
		DeliveryFee:        s.deliveryFee,
		PromotionDiscounts: promotion.Amounts(s.applied),
		Settlement:         s.settings.Settlement,
	}
	if s.coupon != nil {
		spec.CouponDiscount = s.coupon.Discount
	}
	s.breakdown = pricing.Compute(items, spec)
}

// AddItem puts an item in the cart, merging identical lines.
func (s *Session) AddItem(it cart.Item) error {
	if err := s.cart.Add(it); err != nil {
		return err
	}
	s.recompute()
	return nil
}

// SetQuantity changes the quantity of cart line idx.
func (s *Session) SetQuantity(idx, qty int) error {
	if err := s.cart.SetQuantity(idx, qty); err != nil {
		return err
	}
	s.recompute()
	return nil
}

// SetItemNote attaches a kitchen note to cart line idx.
func (s *Session) SetItemNote(idx int, note string) error {
	if err := s.cart.SetNote(idx, note); err != nil {
		return err
	}
	s.recompute()
	return nil
}

// RemoveItem drops cart line idx.
func (s *Session) RemoveItem(idx int) error {
	if err := s.cart.Remove(idx); err != nil {
		return err
	}
	s.recompute()
	return nil
}

// ClearCart empties the cart and resets every per-order adjustment.
func (s *Session) ClearCart() {
	s.cart.Clear()
	s.discount = pricing.ManualDiscount{}
	s.tipPercent = 0
	s.deliveryFee = 0
	s.coupon = nil
	s.recompute()
}

// Items returns a snapshot of the cart lines.
func (s *Session) Items() []cart.Item { return s.cart.Items() }

// SetOrderType selects how the order will be fulfilled.
func (s *Session) SetOrderType(t order.Type) error {
	if !order.ValidType(t) {
		return order.NewValidationError(fmt.Sprintf("unknown order type %q", t))
	}
	s.orderType = t
	return nil
}

// SetTable picks the table the next checkout binds to. The binding
// itself happens at checkout, once an order id exists.
func (s *Session) SetTable(tableID string) { s.tableID = tableID }

// SetDiscount applies a manual whole-order discount.
func (s *Session) SetDiscount(d pricing.ManualDiscount) {
	s.discount = d
	s.recompute()
}

// SetTip sets the tip percentage, computed over the undiscounted
// subtotal.
func (s *Session) SetTip(pct money.Bps) {
	s.tipPercent = pct
	s.recompute()
}

// SetDeliveryFee sets the delivery fee, never taxed or discounted.
func (s *Session) SetDeliveryFee(fee money.Money) {
	s.deliveryFee = fee
	s.recompute()
}

// ApplyCoupon attaches a coupon's fixed discount. One coupon per order;
// applying another replaces it.
func (s *Session) ApplyCoupon(code string, discount money.Money) {
	s.coupon = &order.AppliedCoupon{Code: code, Discount: discount}
	s.recompute()
}

// RemoveCoupon detaches the coupon.
func (s *Session) RemoveCoupon() {
	s.coupon = nil
	s.recompute()
}

// Totals returns the breakdown for the current cart state.
func (s *Session) Totals() pricing.Breakdown { return s.breakdown }

// Promotions returns the auto-applied discount lines.
func (s *Session) Promotions() []promotion.Applied {
	return append([]promotion.Applied(nil), s.applied...)
}

// createOrder snapshots the session into a new order and binds the
// table. The bind happens before any money moves so an occupied table
// is caught while the flow is still free to abort.
func (s *Session) createOrder(draft bool) (*order.Order, error) {
	o, err := s.deps.Machine.Create(order.CreateInput{
		Items:      s.cart.Items(),
		Breakdown:  s.breakdown,
		Type:       s.orderType,
		TableID:    s.tableID,
		Promotions: s.applied,
		Coupon:     s.coupon,
		Staff:      s.settings.Staff,
		Draft:      draft,
	})
	if err != nil {
		return nil, err
	}
	if !draft && s.tableID != "" && s.deps.Tables != nil {
		if _, err := s.deps.Tables.Bind(s.tableID, o.ID); err != nil {
			return nil, fmt.Errorf("bind table: %w", err)
		}
	}
	return o, nil
}

// Checkout settles the whole order with a single payment.
//
// The order is created and the table bound before the provider is
// charged, so an occupied table aborts the flow while no money has
// moved. A failed charge releases the binding and drops the order,
// which was never persisted. The pending and completed revisions are
// persisted separately so peers see the same lifecycle a split
// checkout produces.
func (s *Session) Checkout(ctx context.Context, method string) (*order.Order, error) {
	if s.cart.Len() == 0 {
		return nil, order.NewValidationError("cannot check out an empty cart")
	}

	o, err := s.createOrder(false)
	if err != nil {
		return nil, err
	}

	res, err := s.deps.Processor.Charge(ctx, s.breakdown.Total, method)
	if err != nil {
		s.releaseTable(o)
		return nil, err
	}

	if _, err := s.deps.Reconciler.Persist(ctx, o, broadcast.TypeNewOrder); err != nil {
		return nil, err
	}

	if err := s.deps.Machine.Transition(ctx, o, order.StatusProcessing, order.Meta{Actor: s.settings.Staff}); err != nil {
		return nil, err
	}
	if err := s.deps.Machine.Transition(ctx, o, order.StatusCompleted, order.Meta{
		Actor:  s.settings.Staff,
		Method: method,
		Proof:  res.Proof,
	}); err != nil {
		return nil, err
	}
	if _, err := s.deps.Reconciler.Persist(ctx, o, broadcast.TypeOrderUpdate); err != nil {
		return nil, err
	}

	s.issueReceipt(ctx, o)
	s.ClearCart()
	return o, nil
}

// CheckoutSplit creates the order and opens a split session for it.
// Portions are then settled one by one through PaySplitPortion.
func (s *Session) CheckoutSplit(ctx context.Context, parties int) (*split.Session, *order.Order, error) {
	if s.cart.Len() == 0 {
		return nil, nil, order.NewValidationError("cannot check out an empty cart")
	}
	if s.deps.Splits == nil {
		return nil, nil, order.NewValidationError("split settlement is not configured")
	}

	o, err := s.createOrder(false)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.deps.Reconciler.Persist(ctx, o, broadcast.TypeNewOrder); err != nil {
		return nil, nil, err
	}

	sess, err := s.deps.Splits.Open(ctx, o, parties)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.deps.Reconciler.Persist(ctx, o, broadcast.TypeOrderUpdate); err != nil {
		return nil, nil, err
	}

	s.ClearCart()
	return sess, o, nil
}

// PaySplitPortion charges one portion and records it. On the final
// portion the order completes and the completed revision is persisted.
// A provider failure after recording rolls the portion back.
func (s *Session) PaySplitPortion(ctx context.Context, sess *split.Session, n int, method string) error {
	res, err := s.deps.Processor.Charge(ctx, sess.PerPortion, method)
	if err != nil {
		return err
	}
	if err := sess.RecordPortion(ctx, n, method, res.Proof); err != nil {
		return err
	}
	if sess.Settled() {
		if _, err := s.deps.Reconciler.Persist(ctx, sess.Order, broadcast.TypeOrderUpdate); err != nil {
			return err
		}
		s.issueReceipt(ctx, sess.Order)
	}
	return nil
}

// CancelPayment aborts the in-flight provider call, if any. Payment
// state returns to idle; no order or split portion is left behind,
// because both are written only after the charge succeeds.
func (s *Session) CancelPayment() { s.deps.Processor.Cancel() }

// Hold parks the current cart as a draft order in the local store so
// the terminal can serve the next guest. Held drafts never reach the
// remote store or peers.
func (s *Session) Hold(ctx context.Context) (*order.Order, error) {
	if s.cart.Len() == 0 {
		return nil, order.NewValidationError("cannot hold an empty cart")
	}
	o, err := s.createOrder(true)
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Local.Put(ctx, o); err != nil {
		return nil, fmt.Errorf("hold order %s: %w", o.Code, err)
	}
	s.ClearCart()
	return o, nil
}

// Resume restores a held draft's items into the cart for further
// editing and removes the draft from the local store. A draft is
// pre-checkout state, not an auditable void, so the removal needs no
// permission and cannot be blocked by the actor's role; checkout then
// creates a fresh order from the edited cart.
func (s *Session) Resume(ctx context.Context, orderID string) error {
	if s.cart.Len() != 0 {
		return order.NewValidationError("cart must be empty before resuming a held order")
	}
	o, err := s.deps.Local.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusDraft {
		return order.NewValidationError(fmt.Sprintf("order %s is %s, not held", o.Code, o.Status))
	}

	for _, it := range o.Items {
		mods := make([]cart.Modifier, len(it.Modifiers))
		for i, m := range it.Modifiers {
			mods[i] = cart.Modifier{ID: m.ID, Name: m.Name, Delta: m.Delta}
		}
		if err := s.cart.Add(cart.Item{
			ProductID:  it.ProductID,
			Name:       it.Name,
			CategoryID: it.CategoryID,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
			Modifiers:  mods,
			Note:       it.Note,
			TrackStock: it.TrackStock,
		}); err != nil {
			s.cart.Clear()
			return fmt.Errorf("restore held order %s: %w", o.Code, err)
		}
	}
	s.orderType = o.Type
	s.tableID = o.TableID
	s.recompute()

	if err := s.deps.Local.Delete(ctx, o.ID); err != nil {
		s.log.Warn("held draft left behind", "order", o.Code, "error", err)
	}
	return nil
}

// HeldOrders lists the drafts parked on this terminal, newest first.
func (s *Session) HeldOrders(ctx context.Context) ([]*order.Order, error) {
	return s.deps.Local.List(ctx, store.Filter{Status: order.StatusDraft})
}

// Refund moves a completed order to refunded and propagates the change.
func (s *Session) Refund(ctx context.Context, o *order.Order, reason, actor string) error {
	err := s.deps.Machine.Transition(ctx, o, order.StatusRefunded, order.Meta{
		Actor:  actor,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	_, err = s.deps.Reconciler.Persist(ctx, o, broadcast.TypeOrderUpdate)
	return err
}

// OccupiedDuration reports the current table's occupancy time, for
// per-hour billing displays. Zero when no table is selected.
func (s *Session) OccupiedDuration() (time.Duration, error) {
	if s.tableID == "" || s.deps.Tables == nil {
		return 0, nil
	}
	return s.deps.Tables.OccupiedDuration(s.tableID)
}

func (s *Session) releaseTable(o *order.Order) {
	if o.TableID == "" || s.deps.Tables == nil {
		return
	}
	if err := s.deps.Tables.Release(o.TableID, o.ID); err != nil {
		s.log.Warn("table release failed", "order", o.Code, "table", o.TableID, "error", err)
	}
}

func (s *Session) issueReceipt(ctx context.Context, o *order.Order) {
	if s.deps.Receipts == nil {
		return
	}
	ref, err := s.deps.Receipts.Generate(ctx, o)
	if err != nil {
		s.log.Warn("receipt generation failed", "order", o.Code, "error", err)
		return
	}
	s.log.Info("receipt issued", "order", o.Code, "ref", ref)
}
