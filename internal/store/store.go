// Package store provides durable order persistence.
//
// Two implementations share one interface: a SQLite store for the
// terminal's local, offline-first commits, and a Postgres store for the
// shared remote state all terminals reconcile against. Both enforce
// optimistic revision checks: a Put carrying an older revision than the
// stored row is rejected, a Put carrying the same revision is a no-op,
// and only a newer revision overwrites.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
)

// ErrNotFound is returned by Get for an unknown order id.
var ErrNotFound = errors.New("store: order not found")

// ConflictError reports a Put rejected by the optimistic revision check.
type ConflictError struct {
	OrderID  string
	Stored   int64
	Proposed int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict (order=%s, stored=%d, proposed=%d)",
		e.OrderID, e.Stored, e.Proposed)
}

// IsConflict reports whether err is an optimistic revision conflict.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	Status  order.Status
	Type    order.Type
	TableID string
	Since   time.Time // UpdatedAt at or after Since
}

// Store is the durable persistence contract.
type Store interface {
	// Get returns the order with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*order.Order, error)

	// Put upserts the order subject to the revision check and returns
	// the revision now stored. A stale revision returns *ConflictError;
	// re-putting the stored revision is an idempotent no-op.
	Put(ctx context.Context, o *order.Order) (int64, error)

	// Delete removes the order with the given id. Deleting an unknown
	// id is a no-op; the caller only needs the row gone.
	Delete(ctx context.Context, id string) error

	// List returns orders matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*order.Order, error)

	// MaxNumber returns the highest order number stored, to seed the
	// order number sequence on startup.
	MaxNumber(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// matches reports whether o satisfies f. Shared by the in-memory store
// and tests; the SQL stores filter in the query.
func matches(o *order.Order, f Filter) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	if f.TableID != "" && o.TableID != f.TableID {
		return false
	}
	if !f.Since.IsZero() && o.UpdatedAt.Before(f.Since) {
		return false
	}
	return true
}
