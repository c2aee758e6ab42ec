// Package split coordinates multi-party settlement of one order.
//
// A split session divides an order's total into N equal portions, each
// rounded up to the minor unit, and tracks portion payments until all
// parties have paid. The sum of portions may exceed the order total by
// at most N−1 minor units; that surplus is accepted so every guest pays
// the same amount.
package split

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
)

// Payment is one settled portion.
type Payment struct {
	Portion int         `json:"portion"`
	Amount  money.Money `json:"amount"`
	Method  string      `json:"method"`
	PaidAt  time.Time   `json:"paidAt"`
	Proof   string      `json:"proof"`
}

// Completer is the slice of the order state machine the coordinator
// needs. *order.Machine satisfies it.
type Completer interface {
	Transition(ctx context.Context, o *order.Order, target order.Status, meta order.Meta) error
}

// DuplicatePortionError reports a portion that was already recorded.
// The portion number is the idempotency key: recording the same portion
// twice must not double-count a guest's payment.
type DuplicatePortionError struct {
	SessionID string
	Portion   int
}

func (e *DuplicatePortionError) Error() string {
	return fmt.Sprintf("portion %d already paid (session=%s)", e.Portion, e.SessionID)
}

// IsDuplicatePortion reports whether err is a duplicate portion record.
func IsDuplicatePortion(err error) bool {
	var de *DuplicatePortionError
	return errors.As(err, &de)
}

// ErrSessionSettled is returned for any mutation of a fully settled
// session.
var ErrSessionSettled = errors.New("split: session already settled")

// Coordinator opens split sessions and completes their orders.
type Coordinator struct {
	machine Completer
	ids     order.IDGenerator
	now     func() time.Time
	log     *slog.Logger
}

// NewCoordinator creates a Coordinator. now may be nil (wall clock).
func NewCoordinator(machine Completer, ids order.IDGenerator, log *slog.Logger, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{machine: machine, ids: ids, now: now, log: log}
}

// Open starts a split session for an order. parties must be at least 2.
// A pending order moves to processing: payment collection has begun.
func (c *Coordinator) Open(ctx context.Context, o *order.Order, parties int) (*Session, error) {
	if parties < 2 {
		return nil, order.NewValidationError("split requires at least two parties")
	}
	switch o.Status {
	case order.StatusPending:
		if err := c.machine.Transition(ctx, o, order.StatusProcessing, order.Meta{Reason: "split settlement opened"}); err != nil {
			return nil, err
		}
	case order.StatusProcessing:
		// Already collecting; reopening after a terminal restart.
	default:
		return nil, order.NewTransitionError(o.ID, o.Status, order.StatusProcessing)
	}

	s := &Session{
		ID:         c.ids.Generate(),
		Order:      o,
		Parties:    parties,
		PerPortion: money.SplitCeil(o.Totals.Total, parties),
		payments:   make(map[int]Payment, parties),
		coord:      c,
	}
	c.log.Info("split session opened",
		"session", s.ID, "order", o.Code, "parties", parties, "perPortion", int64(s.PerPortion))
	return s, nil
}

// Session tracks portion payments for one order.
//
// Thread-safety: all methods serialize on an internal mutex. Two
// simultaneous recordings of the same portion cannot both succeed.
type Session struct {
	mu         sync.Mutex
	ID         string
	Order      *order.Order
	Parties    int
	PerPortion money.Money

	payments map[int]Payment
	settled  bool
	coord    *Coordinator
}

// RecordPortion records that portion n was paid with the given method
// and provider proof. When the final portion lands, the order completes
// with the aggregate proof of every portion.
//
// Duplicate recording of the same portion returns
// *DuplicatePortionError and changes nothing.
func (s *Session) RecordPortion(ctx context.Context, n int, method, proof string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return ErrSessionSettled
	}
	if n < 1 || n > s.Parties {
		return order.NewValidationError(fmt.Sprintf("portion %d out of range 1..%d", n, s.Parties))
	}
	if _, dup := s.payments[n]; dup {
		return &DuplicatePortionError{SessionID: s.ID, Portion: n}
	}

	s.payments[n] = Payment{
		Portion: n,
		Amount:  s.PerPortion,
		Method:  method,
		PaidAt:  s.coord.now().UTC(),
		Proof:   proof,
	}

	if len(s.payments) < s.Parties {
		return nil
	}

	proofJSON, err := MarshalProof(s.aggregateLocked())
	if err != nil {
		// Un-record the final portion so the duplicate check does not
		// block re-recording it, which retries the completion.
		delete(s.payments, n)
		return fmt.Errorf("serialize aggregate proof: %w", err)
	}
	if err := s.coord.machine.Transition(ctx, s.Order, order.StatusCompleted, order.Meta{
		Method: "split",
		Proof:  proofJSON,
	}); err != nil {
		delete(s.payments, n)
		return fmt.Errorf("complete split order: %w", err)
	}
	s.settled = true
	s.coord.log.Info("split session settled", "session", s.ID, "order", s.Order.Code)
	return nil
}

// Rollback un-records portion n after a provider error that arrived
// once the portion was already recorded, so the remaining-amount display
// stays accurate.
//
// Known limitation: if the rollback races a slow provider confirmation
// that ultimately succeeds, the guest may be charged and the portion
// shown unpaid. The design trades that rare double-charge risk for a
// simple remaining-amount model.
func (s *Session) Rollback(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return ErrSessionSettled
	}
	if _, ok := s.payments[n]; !ok {
		return order.NewValidationError(fmt.Sprintf("portion %d is not recorded", n))
	}
	delete(s.payments, n)
	return nil
}

// PaidCount returns the number of recorded portions.
func (s *Session) PaidCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// Settled reports whether all portions are paid and the order completed.
func (s *Session) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// Remaining is the amount still owed. Never negative: the ceiling
// surplus is absorbed once all portions are in.
func (s *Session) Remaining() money.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paid money.Money
	for _, p := range s.payments {
		paid += p.Amount
	}
	if paid > s.Order.Totals.Total {
		return 0
	}
	return s.Order.Totals.Total - paid
}

// Payments returns the recorded portions sorted by portion number.
func (s *Session) Payments() []Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paymentsLocked()
}

func (s *Session) paymentsLocked() []Payment {
	out := make([]Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Portion < out[j].Portion })
	return out
}

func (s *Session) aggregateLocked() AggregateProof {
	return AggregateProof{
		SessionID: s.ID,
		OrderID:   s.Order.ID,
		Parties:   s.Parties,
		Payments:  s.paymentsLocked(),
	}
}
