package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
)

// stubProvider answers charges from a script; blockCh, when set, holds
// the charge open until the context is cancelled.
type stubProvider struct {
	result  Result
	err     error
	blockCh chan struct{}
}

func (s *stubProvider) Charge(ctx context.Context, _ money.Money, _ string) (Result, error) {
	if s.blockCh != nil {
		close(s.blockCh)
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

func TestProcessor_ChargeSuccess(t *testing.T) {
	p := NewProcessor(&stubProvider{result: Result{Proof: "ln-abc", Success: true}})

	res, err := p.Charge(context.Background(), 25000, "lightning")
	require.NoError(t, err)
	assert.Equal(t, "ln-abc", res.Proof)
	assert.Equal(t, StateIdle, p.State())
}

func TestProcessor_ProviderFailure(t *testing.T) {
	p := NewProcessor(&stubProvider{err: errors.New("timeout")})

	_, err := p.Charge(context.Background(), 25000, "lightning")
	assert.True(t, IsProvider(err))
	assert.Equal(t, StateIdle, p.State(), "state resets to idle after failure")
}

func TestProcessor_ProviderDecline(t *testing.T) {
	p := NewProcessor(&stubProvider{result: Result{Success: false}})

	_, err := p.Charge(context.Background(), 25000, "bank")
	assert.True(t, IsProvider(err))
}

func TestProcessor_Cancel(t *testing.T) {
	started := make(chan struct{})
	p := NewProcessor(&stubProvider{blockCh: started})

	done := make(chan error, 1)
	go func() {
		_, err := p.Charge(context.Background(), 25000, "lightning")
		done <- err
	}()

	<-started
	assert.Equal(t, StateCharging, p.State())
	p.Cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("charge did not return after cancel")
	}
	assert.Equal(t, StateIdle, p.State(), "cancel resets state to idle")
}

func TestProcessor_CancelWhenIdleIsSafe(t *testing.T) {
	p := NewProcessor(&stubProvider{result: Result{Success: true}})
	p.Cancel()
	assert.Equal(t, StateIdle, p.State())
}

func TestProcessor_RejectsConcurrentCharge(t *testing.T) {
	started := make(chan struct{})
	p := NewProcessor(&stubProvider{blockCh: started})

	go func() {
		_, _ = p.Charge(context.Background(), 25000, "lightning")
	}()
	<-started

	_, err := p.Charge(context.Background(), 1000, "cash")
	assert.ErrorIs(t, err, ErrChargeInFlight)
	p.Cancel()
}
