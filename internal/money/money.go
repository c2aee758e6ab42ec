// Package money provides exact minor-unit monetary arithmetic for the
// settlement engine.
//
// All amounts are carried as int64 counts of a currency's smallest unit
// (cents, kip, satang). Percentage rates are carried as basis points
// (1% == 100 bps) so every computation stays in integer space and rounds
// identically on every terminal.
//
// Rounding is round-half-up on non-negative quantities. This must stay
// deterministic: two terminals pricing the same cart must produce the
// same total to the minor unit, or reconciliation breaks.
package money

import "math"

// Money is an amount in a currency's minor unit.
type Money int64

// Bps is a rate in basis points: 100 Bps == 1%.
type Bps int64

// BpsFromPercent converts a human percentage (e.g. 7.5) to basis points.
// Conversion happens once, at the configuration boundary; all arithmetic
// after that is integer.
func BpsFromPercent(pct float64) Bps {
	return Bps(math.Round(pct * 100))
}

// Percent returns the rate as a human percentage for display.
func (b Bps) Percent() float64 {
	return float64(b) / 100
}

// ApplyRate computes amount × rate with round-half-up.
//
//	ApplyRate(25000, 1000) == 2500   // 10% of 25000
//	ApplyRate(333, 1000) == 33       // 33.3 rounds down
//	ApplyRate(335, 1000) == 34       // 33.5 rounds up
//
// amount must be non-negative; negative rates are not used anywhere in
// the engine.
func ApplyRate(amount Money, rate Bps) Money {
	return Money((int64(amount)*int64(rate) + 5000) / 10000)
}

// ExtractInclusiveRate computes the tax portion embedded in a
// tax-inclusive amount: round(amount − amount / (1 + rate)).
//
// Algebraically that is round(amount × rate / (10000 + rate)), which is
// what we evaluate so the division happens exactly once.
func ExtractInclusiveRate(amount Money, rate Bps) Money {
	den := int64(10000 + rate)
	return Money((int64(amount)*int64(rate) + den/2) / den)
}

// SplitCeil divides a total into parts equal portions, each rounded up.
// The sum of all portions may exceed total by at most parts−1 minor
// units; that surplus is the accepted cost of equal portions.
func SplitCeil(total Money, parts int) Money {
	if parts <= 0 {
		return total
	}
	p := int64(parts)
	return Money((int64(total) + p - 1) / p)
}

// ToSettlement converts a minor-unit amount to the settlement currency's
// smallest unit (sats), given the rate in sats per major unit of the
// display currency and the display currency's decimal count.
//
// Used for display and payment-request sizing only; business logic never
// reads settlement amounts back.
func ToSettlement(amount Money, satsPerUnit float64, decimals int) int64 {
	scale := math.Pow10(decimals)
	return int64(math.Round(float64(amount) / scale * satsPerUnit))
}

// Clamp bounds m to [lo, hi].
func Clamp(m, lo, hi Money) Money {
	if m < lo {
		return lo
	}
	if m > hi {
		return hi
	}
	return m
}
