// Package order owns the Order model and its lifecycle state machine.
//
// An Order is created from an immutable snapshot of the cart at checkout
// time. From that point on it is mutated only through Machine methods,
// which serialize all mutations per order id: peer broadcasts race with
// local edits even though a single terminal is event-driven.
package order

import (
	"time"

	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
	"github.com/tay1862/kinsaep-pos-sub005/internal/promotion"
)

// Status is the payment-lifecycle state of an order.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusVoided     Status = "voided"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether no further transition can leave the status.
// Completed is not terminal: it may still be refunded.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusVoided, StatusRefunded:
		return true
	}
	return false
}

// Type is how the order is fulfilled.
type Type string

const (
	TypeDineIn   Type = "dine_in"
	TypeTakeAway Type = "take_away"
	TypeDelivery Type = "delivery"
	TypePickup   Type = "pickup"
)

// ValidType reports whether t is a known order type.
func ValidType(t Type) bool {
	switch t {
	case TypeDineIn, TypeTakeAway, TypeDelivery, TypePickup:
		return true
	}
	return false
}

// KitchenStatus is the fulfillment sub-state of an ordered item,
// orthogonal to the payment lifecycle.
type KitchenStatus string

const (
	KitchenNew       KitchenStatus = "new"
	KitchenPreparing KitchenStatus = "preparing"
	KitchenReady     KitchenStatus = "ready"
	KitchenServed    KitchenStatus = "served"
)

// Item is an ordered line: the checkout-time snapshot of a cart item
// plus its kitchen sub-status. Monetary fields never change after
// checkout.
type Item struct {
	ProductID  string        `json:"productId"`
	Name       string        `json:"name"`
	CategoryID string        `json:"categoryId,omitempty"`
	UnitPrice  money.Money   `json:"unitPrice"`
	Quantity   int           `json:"quantity"`
	Modifiers  []ItemMod     `json:"modifiers,omitempty"`
	Note       string        `json:"note,omitempty"`
	LineTotal  money.Money   `json:"lineTotal"`
	TrackStock bool          `json:"trackStock"`
	Kitchen    KitchenStatus `json:"kitchenStatus"`
}

// ItemMod is a snapshotted modifier selection.
type ItemMod struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Delta money.Money `json:"delta"`
}

// Totals is the monetary breakdown frozen at checkout.
//
// Invariant: Total == Subtotal − Discount + Tax(if not inclusive) + Tip
// + DeliveryFee.
type Totals struct {
	Subtotal     money.Money `json:"subtotal"`
	Discount     money.Money `json:"discount"`
	Tax          money.Money `json:"tax"`
	TaxInclusive bool        `json:"taxInclusive"`
	Tip          money.Money `json:"tip"`
	DeliveryFee  money.Money `json:"deliveryFee"`
	Total        money.Money `json:"total"`
	TotalSats    int64       `json:"totalSats"`
}

// AppliedCoupon is the coupon attached to an order, immutable once the
// order completes.
type AppliedCoupon struct {
	Code     string      `json:"code"`
	Discount money.Money `json:"discount"`
}

// StatusChange is one audit-trail entry. Every transition appends one.
type StatusChange struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Actor  string    `json:"actor,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Order is the settlement engine's central record.
//
// Revision is the per-order logical revision used for last-writer-wins
// reconciliation across terminals. It increases by exactly one on every
// committed mutation and is compared instead of wall clocks, which may
// skew between terminals.
type Order struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Number   int64  `json:"number"`
	Status   Status `json:"status"`
	Type     Type   `json:"type"`
	Items    []Item `json:"items"`
	Totals   Totals `json:"totals"`
	Revision int64  `json:"revision"`

	Promotions []promotion.Applied `json:"promotions,omitempty"`
	Coupon     *AppliedCoupon      `json:"coupon,omitempty"`

	PaymentMethod string `json:"paymentMethod,omitempty"`
	PaymentProof  string `json:"paymentProof,omitempty"`

	TableID       string   `json:"tableId,omitempty"`
	Priority      int      `json:"priority"`
	Tags          []string `json:"tags,omitempty"`
	AssignedStaff string   `json:"assignedStaff,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	PreparedAt *time.Time `json:"preparedAt,omitempty"`
	ServedAt   *time.Time `json:"servedAt,omitempty"`

	Audit []StatusChange `json:"audit,omitempty"`
}

// Clone returns a deep copy. Broadcast and store layers hand out clones
// so no two goroutines share item slices.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = make([]Item, len(o.Items))
	copy(c.Items, o.Items)
	for i := range c.Items {
		if len(o.Items[i].Modifiers) > 0 {
			mods := make([]ItemMod, len(o.Items[i].Modifiers))
			copy(mods, o.Items[i].Modifiers)
			c.Items[i].Modifiers = mods
		}
	}
	if len(o.Promotions) > 0 {
		c.Promotions = append([]promotion.Applied(nil), o.Promotions...)
	}
	if o.Coupon != nil {
		cp := *o.Coupon
		c.Coupon = &cp
	}
	if len(o.Tags) > 0 {
		c.Tags = append([]string(nil), o.Tags...)
	}
	if len(o.Audit) > 0 {
		c.Audit = append([]StatusChange(nil), o.Audit...)
	}
	if o.PreparedAt != nil {
		t := *o.PreparedAt
		c.PreparedAt = &t
	}
	if o.ServedAt != nil {
		t := *o.ServedAt
		c.ServedAt = &t
	}
	return &c
}

// PriorityFor derives a dispatch priority tier from an order total.
// Bigger tickets jump the kitchen queue.
func PriorityFor(total money.Money) int {
	switch {
	case total >= 100000:
		return 10
	case total >= 50000:
		return 5
	default:
		return 1
	}
}
