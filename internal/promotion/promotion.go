// Package promotion evaluates active promotion rules against a cart.
//
// Evaluation is pure and idempotent: the terminal session re-runs it on
// every cart mutation and attaches the result to the pricing spec. Usage
// recording (the only side effect) happens once, at order completion,
// through an idempotent Log.
package promotion

import (
	"fmt"
	"sync"

	"github.com/tay1862/kinsaep-pos-sub005/internal/cart"
	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
)

// Scope selects which cart contents trigger a rule.
type Scope string

const (
	// ScopeAll matches any non-empty cart.
	ScopeAll Scope = "all"
	// ScopeProducts matches carts containing any of the rule's products.
	ScopeProducts Scope = "products"
	// ScopeCategories matches carts containing any product from the
	// rule's categories.
	ScopeCategories Scope = "categories"
)

// DiscountKind selects how a rule's discount is computed.
type DiscountKind string

const (
	// KindFixed subtracts a fixed amount from the cart.
	KindFixed DiscountKind = "fixed"
	// KindPercent subtracts a percentage of the matched items' total.
	KindPercent DiscountKind = "percent"
)

// Rule is one active promotion in the catalog.
type Rule struct {
	ID          string
	Name        string
	Scope       Scope
	ProductIDs  []string
	CategoryIDs []string
	Kind        DiscountKind
	Amount      money.Money // KindFixed
	Percent     money.Bps   // KindPercent, of the matched items' total
}

// Applied is a discount line produced by a matched rule. Once attached to
// a completed order it is immutable and used for audit reporting.
type Applied struct {
	PromotionID string      `json:"promotionId"`
	Description string      `json:"description"`
	Amount      money.Money `json:"discountAmount"`
}

// Evaluate returns the discount lines for every rule that matches the
// cart, in catalog order.
//
// Multiple matching rules stack additively: there is no precedence or
// exclusivity between promotions. That is a deliberate business decision,
// not an implementation accident; the pricing layer clamps the combined
// discount so the total never goes negative.
func Evaluate(items []cart.Item, catalog []Rule) []Applied {
	if len(items) == 0 {
		return nil
	}
	var out []Applied
	for _, r := range catalog {
		matched := matchingTotal(items, r)
		if matched == 0 {
			continue
		}
		amount := r.Amount
		if r.Kind == KindPercent {
			amount = money.ApplyRate(matched, r.Percent)
		}
		if amount <= 0 {
			continue
		}
		out = append(out, Applied{
			PromotionID: r.ID,
			Description: r.Name,
			Amount:      amount,
		})
	}
	return out
}

// Amounts extracts just the discount amounts, in order, for the pricing
// spec.
func Amounts(applied []Applied) []money.Money {
	if len(applied) == 0 {
		return nil
	}
	out := make([]money.Money, len(applied))
	for i, a := range applied {
		out[i] = a.Amount
	}
	return out
}

// matchingTotal returns the line total of the items that trigger the
// rule, or 0 when the rule does not match.
func matchingTotal(items []cart.Item, r Rule) money.Money {
	switch r.Scope {
	case ScopeAll:
		var sum money.Money
		for _, it := range items {
			sum += it.LineTotal()
		}
		return sum
	case ScopeProducts:
		return totalWhere(items, func(it cart.Item) bool {
			return contains(r.ProductIDs, it.ProductID)
		})
	case ScopeCategories:
		return totalWhere(items, func(it cart.Item) bool {
			return contains(r.CategoryIDs, it.CategoryID)
		})
	default:
		return 0
	}
}

func totalWhere(items []cart.Item, pred func(cart.Item) bool) money.Money {
	var sum money.Money
	for _, it := range items {
		if pred(it) {
			sum += it.LineTotal()
		}
	}
	return sum
}

func contains(set []string, id string) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

// UsageSink receives promotion usage records for reporting.
// Implementations may write to a database or an analytics collaborator.
type UsageSink interface {
	RecordUsage(orderID string, applied []Applied) error
}

// Log records promotion usage exactly once per order id.
//
// Completion may be retried (replay after a crash, a duplicate broadcast),
// so Record must tolerate being called again with the same order id and
// do nothing the second time.
//
// Thread-safety: safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	sink   UsageSink
	logged map[string]bool
}

// NewLog creates a usage log writing to sink.
func NewLog(sink UsageSink) *Log {
	return &Log{sink: sink, logged: make(map[string]bool)}
}

// Record forwards the applied promotions to the sink unless this order id
// has already been recorded. A sink failure leaves the order unrecorded
// so a later retry can succeed.
func (l *Log) Record(orderID string, applied []Applied) error {
	if len(applied) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logged[orderID] {
		return nil
	}
	if err := l.sink.RecordUsage(orderID, applied); err != nil {
		return fmt.Errorf("record promotion usage: %w", err)
	}
	l.logged[orderID] = true
	return nil
}
