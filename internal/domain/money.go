package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnits maps currency codes to their minor-unit exponent. Codes missing
// from the table default to 2. DIA is a whole-unit synthetic currency.
var minorUnits = map[string]int32{
	"JPY":           0,
	"KRW":           0,
	"VND":           0,
	"BHD":           3,
	"KWD":           3,
	"OMR":           3,
	DiamondCurrency: 0,
}

// MinorUnits returns the number of decimal places a currency is persisted
// and presented with.
func MinorUnits(currency string) int32 {
	if exp, ok := minorUnits[currency]; ok {
		return exp
	}
	return 2
}

// Money is a fixed-point decimal value tagged with a currency. Arithmetic is
// performed at full precision; rounding to the currency's minor units happens
// only via Round, at persistence or presentation boundaries.
type Money struct {
	Amount   decimal.Decimal
	Currency string // ISO 4217, or a synthetic code such as DIA
}

// NewMoney creates a Money value.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Add returns m+n. Both values must share a currency.
func (m Money) Add(n Money) (Money, error) {
	if m.Currency != n.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, n.Currency)
	}
	return Money{Amount: m.Amount.Add(n.Amount), Currency: m.Currency}, nil
}

// Sub returns m-n. Both values must share a currency.
func (m Money) Sub(n Money) (Money, error) {
	if m.Currency != n.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, n.Currency)
	}
	return Money{Amount: m.Amount.Sub(n.Amount), Currency: m.Currency}, nil
}

// Mul scales the amount by a factor at full precision.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Div divides the amount by a divisor at full precision.
func (m Money) Div(divisor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Div(divisor), Currency: m.Currency}
}

// Convert re-denominates the value into another currency at the given rate,
// expressed as target units per one unit of the current currency. The result
// is unrounded.
func (m Money) Convert(currency string, rate decimal.Decimal) Money {
	scaled := m.Mul(rate)
	scaled.Currency = currency
	return scaled
}

// Neg returns the value with its sign flipped.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	return Money{Amount: m.Amount.Abs(), Currency: m.Currency}
}

// Sign returns -1, 0 or 1 based on the rounded value. Comparisons operate on
// the persisted (rounded) figure so they agree with what the ledger stores.
func (m Money) Sign() int {
	return m.Rounded().Sign()
}

// IsPositive reports whether the rounded value is > 0.
func (m Money) IsPositive() bool {
	return m.Sign() > 0
}

// Rounded returns the amount rounded to the currency's minor units.
func (m Money) Rounded() decimal.Decimal {
	return m.Amount.Round(MinorUnits(m.Currency))
}

// Round returns a copy whose amount is rounded to the currency's minor units.
func (m Money) Round() Money {
	return Money{Amount: m.Rounded(), Currency: m.Currency}
}

// String formats the rounded value with its currency code.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Rounded().StringFixed(MinorUnits(m.Currency)), m.Currency)
}
