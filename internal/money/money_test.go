package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBpsFromPercent(t *testing.T) {
	assert.Equal(t, Bps(1000), BpsFromPercent(10))
	assert.Equal(t, Bps(750), BpsFromPercent(7.5))
	assert.Equal(t, Bps(0), BpsFromPercent(0))
	assert.Equal(t, Bps(10000), BpsFromPercent(100))
}

func TestApplyRate_RoundHalfUp(t *testing.T) {
	tests := []struct {
		name   string
		amount Money
		rate   Bps
		want   Money
	}{
		{"exact", 25000, 1000, 2500},
		{"rounds down below half", 333, 1000, 33},   // 33.3
		{"rounds up at half", 335, 1000, 34},        // 33.5
		{"rounds up above half", 336, 1000, 34},     // 33.6
		{"zero rate", 25000, 0, 0},
		{"zero amount", 0, 1000, 0},
		{"full rate", 12345, 10000, 12345},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyRate(tt.amount, tt.rate))
		})
	}
}

func TestExtractInclusiveRate(t *testing.T) {
	// 25000 with 10% embedded: round(25000 − 25000/1.10) = 2273.
	assert.Equal(t, Money(2273), ExtractInclusiveRate(25000, 1000))

	// 11000 with 10% embedded divides exactly: 1000.
	assert.Equal(t, Money(1000), ExtractInclusiveRate(11000, 1000))

	// Zero rate extracts nothing.
	assert.Equal(t, Money(0), ExtractInclusiveRate(25000, 0))
}

func TestExtractInclusiveRate_Deterministic(t *testing.T) {
	// The embedded tax plus the net amount must never exceed the gross
	// amount, across a spread of awkward values.
	for amount := Money(1); amount < 10000; amount += 7 {
		tax := ExtractInclusiveRate(amount, 700)
		assert.LessOrEqual(t, tax, amount, "amount=%d", amount)
		assert.GreaterOrEqual(t, tax, Money(0), "amount=%d", amount)
	}
}

func TestSplitCeil(t *testing.T) {
	assert.Equal(t, Money(10000), SplitCeil(30000, 3))
	assert.Equal(t, Money(3334), SplitCeil(10000, 3))
	assert.Equal(t, Money(1), SplitCeil(1, 2))

	// Portions cover the total with surplus at most parts−1.
	for _, parts := range []int{2, 3, 5, 7} {
		total := Money(99999)
		per := SplitCeil(total, parts)
		sum := per * Money(parts)
		assert.GreaterOrEqual(t, sum, total)
		assert.LessOrEqual(t, sum-total, Money(parts-1))
	}
}

func TestToSettlement(t *testing.T) {
	// 100.00 in a 2-decimal currency at 1000 sats per unit.
	assert.Equal(t, int64(100000), ToSettlement(10000, 1000, 2))

	// Zero-decimal currency converts directly.
	assert.Equal(t, int64(50), ToSettlement(25000, 0.002, 0))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, Money(5), Clamp(10, 0, 5))
	assert.Equal(t, Money(0), Clamp(-3, 0, 5))
	assert.Equal(t, Money(3), Clamp(3, 0, 5))
}

func TestFormatter(t *testing.T) {
	f, err := NewFormatter("USD", 2)
	require.NoError(t, err)
	got := f.Format(123456)
	assert.Contains(t, got, "1,234.56")

	_, err = NewFormatter("NOPE", 2)
	assert.Error(t, err)
}

func TestFormatter_ZeroDecimalCurrency(t *testing.T) {
	f, err := NewFormatter("LAK", 0)
	require.NoError(t, err)
	got := f.Format(25000)
	assert.Contains(t, got, "25,000")
}
