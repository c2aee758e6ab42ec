// Package pricing computes cart totals.
//
// Compute is a pure function: no side effects, no clock, no stored state.
// The terminal session calls it on every cart mutation, so it must be
// cheap and its output must depend only on its inputs.
//
// Ordering of the monetary pipeline is fixed: all discounts (manual,
// coupon, promotions) are summed and applied to the subtotal BEFORE tax
// is computed; tip is computed on the undiscounted subtotal; delivery fee
// is added last and is never taxed or discounted.
package pricing

import (
	"github.com/tay1862/kinsaep-pos-sub005/internal/cart"
	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
)

// DiscountType selects how a manual discount is expressed.
type DiscountType string

const (
	// DiscountPercent discounts a percentage of the subtotal.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed discounts a fixed minor-unit amount.
	DiscountFixed DiscountType = "fixed"
)

// ManualDiscount is a cashier-entered discount on the whole cart.
type ManualDiscount struct {
	Type    DiscountType
	Percent money.Bps   // used when Type == DiscountPercent
	Amount  money.Money // used when Type == DiscountFixed
}

// TaxSpec configures tax computation.
//
// When Inclusive is true the tax is already embedded in item prices: the
// reported TaxAmount is extracted for the receipt but does not change the
// total. When false the tax is added on top of the discounted subtotal.
type TaxSpec struct {
	Enabled   bool
	Rate      money.Bps
	Inclusive bool
}

// SettlementSpec converts the total into the settlement currency's
// smallest unit (sats) for payment-request sizing.
type SettlementSpec struct {
	SatsPerUnit float64 // sats per major unit of the display currency
	Decimals    int     // display currency minor-unit exponent
}

// Spec carries everything Compute needs besides the items themselves.
// The zero value means: no discount, no tax, no tip, no delivery fee.
type Spec struct {
	Discount           ManualDiscount
	Tax                TaxSpec
	TipPercent         money.Bps
	DeliveryFee        money.Money
	CouponDiscount     money.Money
	PromotionDiscounts []money.Money
	Settlement         SettlementSpec
}

// Breakdown is the computed monetary result for a cart.
type Breakdown struct {
	Subtotal      money.Money
	DiscountTotal money.Money
	TaxAmount     money.Money
	TipAmount     money.Money
	DeliveryFee   money.Money
	Total         money.Money
	TotalSats     int64
	TaxInclusive  bool
}

// Compute calculates the full monetary breakdown for the given items.
//
// The caller validates items before invocation (the cart rejects
// non-positive quantities), so Compute never fails.
//
// Invariant: Total == Subtotal − DiscountTotal + TaxAmount(if exclusive)
// + TipAmount + DeliveryFee, exactly, in minor units.
func Compute(items []cart.Item, spec Spec) Breakdown {
	var subtotal money.Money
	for _, it := range items {
		subtotal += it.LineTotal()
	}

	discount := manualDiscount(subtotal, spec.Discount) + spec.CouponDiscount
	for _, p := range spec.PromotionDiscounts {
		discount += p
	}
	// Stacked discounts may exceed the subtotal; the total never goes
	// negative.
	discount = money.Clamp(discount, 0, subtotal)

	taxable := subtotal - discount

	var tax money.Money
	if spec.Tax.Enabled {
		if spec.Tax.Inclusive {
			tax = money.ExtractInclusiveRate(taxable, spec.Tax.Rate)
		} else {
			tax = money.ApplyRate(taxable, spec.Tax.Rate)
		}
	}

	tip := money.ApplyRate(subtotal, spec.TipPercent)

	total := taxable + tip + spec.DeliveryFee
	if spec.Tax.Enabled && !spec.Tax.Inclusive {
		total += tax
	}

	return Breakdown{
		Subtotal:      subtotal,
		DiscountTotal: discount,
		TaxAmount:     tax,
		TipAmount:     tip,
		DeliveryFee:   spec.DeliveryFee,
		Total:         total,
		TotalSats:     money.ToSettlement(total, spec.Settlement.SatsPerUnit, spec.Settlement.Decimals),
		TaxInclusive:  spec.Tax.Enabled && spec.Tax.Inclusive,
	}
}

func manualDiscount(subtotal money.Money, d ManualDiscount) money.Money {
	switch d.Type {
	case DiscountPercent:
		return money.ApplyRate(subtotal, d.Percent)
	case DiscountFixed:
		return d.Amount
	default:
		return 0
	}
}
