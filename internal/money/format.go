package money

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders minor-unit amounts as localized currency strings for
// receipts and settlement summaries.
//
// Thread-safety: Formatter is immutable after construction and safe for
// concurrent use.
type Formatter struct {
	unit     currency.Unit
	printer  *message.Printer
	decimals int
}

// NewFormatter creates a formatter for an ISO 4217 currency code.
// decimals is the currency's minor-unit exponent (2 for USD, 0 for LAK).
func NewFormatter(code string, decimals int) (*Formatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("parse currency %q: %w", code, err)
	}
	return &Formatter{
		unit:     unit,
		printer:  message.NewPrinter(language.English),
		decimals: decimals,
	}, nil
}

// Format renders an amount with its currency symbol, e.g. "₭ 25,000".
func (f *Formatter) Format(m Money) string {
	major := float64(m) / math.Pow10(f.decimals)
	return f.printer.Sprintf("%v", currency.Symbol(f.unit.Amount(major)))
}

// FormatSats renders a settlement-currency amount, e.g. "1,250 sats".
func (f *Formatter) FormatSats(sats int64) string {
	return f.printer.Sprintf("%d sats", sats)
}
