// Package payment defines the uniform contract the engine requires from
// payment providers, and a cancellable charge flow around it.
//
// The engine never sees provider wire protocols (Lightning, bank, QR);
// it sees a Provider that either returns an opaque proof or an error.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
)

// Result is the uniform outcome of a charge attempt.
type Result struct {
	// Proof is the provider's opaque receipt, attached to the order as
	// payment proof. Never interpreted by the engine.
	Proof   string
	Success bool
}

// Provider charges an amount through some external payment network.
// Implementations must honor ctx cancellation: an abandoned charge must
// return promptly with ctx.Err().
type Provider interface {
	Charge(ctx context.Context, amount money.Money, method string) (Result, error)
}

// ProviderError wraps a payment network failure or timeout. Surfaced to
// the caller; the payment state resets to idle and no order mutation is
// committed.
type ProviderError struct {
	Method string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider failed (method=%s): %v", e.Method, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProvider reports whether err is a payment provider failure.
// Uses errors.As to handle wrapped errors.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// State is the processor's payment state, visible to the UI layer.
type State string

const (
	StateIdle     State = "idle"
	StateCharging State = "charging"
)

// Processor runs at most one charge at a time and supports user
// cancellation of the in-flight attempt.
//
// Guarantees:
//   - a second Charge while one is in flight is rejected
//   - Cancel aborts the provider call and resets the state to idle
//   - after any outcome (success, failure, cancel) the state is idle,
//     so no order is ever left stuck in a half-charged limbo
//
// Thread-safety: safe for concurrent use.
type Processor struct {
	mu       sync.Mutex
	provider Provider
	state    State
	cancel   context.CancelFunc
}

// NewProcessor creates a Processor over the given provider.
func NewProcessor(p Provider) *Processor {
	return &Processor{provider: p, state: StateIdle}
}

// State returns the current payment state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ErrChargeInFlight is returned when a charge is attempted while another
// is still running.
var ErrChargeInFlight = errors.New("payment: charge already in flight")

// Charge runs one provider charge. It blocks until the provider answers,
// the context expires, or Cancel is called.
//
// On provider failure the error is a *ProviderError and the caller must
// not record any payment. On cancellation the returned error wraps
// context.Canceled.
func (p *Processor) Charge(ctx context.Context, amount money.Money, method string) (Result, error) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return Result{}, ErrChargeInFlight
	}
	ctx, cancel := context.WithCancel(ctx)
	p.state = StateCharging
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.state = StateIdle
		p.cancel = nil
		p.mu.Unlock()
	}()

	res, err := p.provider.Charge(ctx, amount, method)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, fmt.Errorf("payment cancelled: %w", err)
		}
		return Result{}, &ProviderError{Method: method, Err: err}
	}
	if !res.Success {
		return Result{}, &ProviderError{Method: method, Err: errors.New("provider declined")}
	}
	return res, nil
}

// Cancel aborts the in-flight charge, if any. Safe to call when idle.
func (p *Processor) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}
