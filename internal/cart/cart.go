// Package cart implements the active cart owned by a terminal session.
//
// The cart is an explicit value mutated only through its methods; nothing
// else in the engine holds a reference to its line items. Presentation
// code reads snapshots via Items() and never writes. On checkout the cart
// is snapshotted into an order and cleared, so a cart item never outlives
// the cart that owns it.
package cart

import (
	"fmt"

	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
)

// Modifier is a selected variant or add-on with a price delta.
// The delta may be negative (e.g. "no cheese" on a combo price).
type Modifier struct {
	ID    string
	Name  string
	Delta money.Money
}

// Item is one cart line.
type Item struct {
	ProductID  string
	Name       string
	CategoryID string
	UnitPrice  money.Money
	Quantity   int
	Modifiers  []Modifier
	Note       string

	// TrackStock marks whether completing an order containing this item
	// decrements the product's inventory.
	TrackStock bool
}

// LineTotal is (unit price + Σ modifier deltas) × quantity.
func (it Item) LineTotal() money.Money {
	unit := it.UnitPrice
	for _, m := range it.Modifiers {
		unit += m.Delta
	}
	return unit * money.Money(it.Quantity)
}

// ValidationError reports a rejected cart mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid cart item: %s %s", e.Field, e.Message)
}

// Cart holds the line items being assembled for one order.
//
// Thread-safety: Cart is NOT safe for concurrent use. It is owned by a
// single terminal session, which serializes all mutations.
type Cart struct {
	items []Item
}

// New creates an empty cart.
func New() *Cart {
	return &Cart{}
}

// Add appends an item after validating it. If an item with the same
// product, modifiers, and note already exists, the quantities merge.
func (c *Cart) Add(it Item) error {
	if err := validate(it); err != nil {
		return err
	}
	for i := range c.items {
		if sameLine(c.items[i], it) {
			c.items[i].Quantity += it.Quantity
			return nil
		}
	}
	c.items = append(c.items, it)
	return nil
}

// SetQuantity changes the quantity of the line at index idx.
// A quantity below 1 is rejected; use Remove to drop a line.
func (c *Cart) SetQuantity(idx, qty int) error {
	if idx < 0 || idx >= len(c.items) {
		return &ValidationError{Field: "index", Message: "out of range"}
	}
	if qty < 1 {
		return &ValidationError{Field: "quantity", Message: "must be at least 1"}
	}
	c.items[idx].Quantity = qty
	return nil
}

// SetNote replaces the free-text note on the line at index idx.
func (c *Cart) SetNote(idx int, note string) error {
	if idx < 0 || idx >= len(c.items) {
		return &ValidationError{Field: "index", Message: "out of range"}
	}
	c.items[idx].Note = note
	return nil
}

// Remove drops the line at index idx.
func (c *Cart) Remove(idx int) error {
	if idx < 0 || idx >= len(c.items) {
		return &ValidationError{Field: "index", Message: "out of range"}
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	return nil
}

// Clear removes all lines. Called on checkout and on explicit clear.
func (c *Cart) Clear() {
	c.items = nil
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.items)
}

// Items returns a copy of the current lines. Callers may not mutate the
// cart through the returned slice.
func (c *Cart) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	for i := range out {
		if len(c.items[i].Modifiers) > 0 {
			mods := make([]Modifier, len(c.items[i].Modifiers))
			copy(mods, c.items[i].Modifiers)
			out[i].Modifiers = mods
		}
	}
	return out
}

// Subtotal is the sum of all line totals.
func (c *Cart) Subtotal() money.Money {
	var sum money.Money
	for _, it := range c.items {
		sum += it.LineTotal()
	}
	return sum
}

func validate(it Item) error {
	if it.ProductID == "" {
		return &ValidationError{Field: "productId", Message: "is required"}
	}
	if it.Quantity < 1 {
		return &ValidationError{Field: "quantity", Message: "must be at least 1"}
	}
	if it.UnitPrice < 0 {
		return &ValidationError{Field: "unitPrice", Message: "must not be negative"}
	}
	return nil
}

// sameLine reports whether two items collapse into one cart line:
// identical product, modifier selection, and note.
func sameLine(a, b Item) bool {
	if a.ProductID != b.ProductID || a.Note != b.Note || len(a.Modifiers) != len(b.Modifiers) {
		return false
	}
	for i := range a.Modifiers {
		if a.Modifiers[i].ID != b.Modifiers[i].ID {
			return false
		}
	}
	return true
}
