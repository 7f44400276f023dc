// Package money provides currency-safe arithmetic for receipt amounts using
// integer minor units. Line totals are summed in cents so that merged
// records and recomputed subtotals never drift by fractions of a cent.
package money

import (
	"errors"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	CAD = "CAD"
	JPY = "JPY" // no decimal places
)

// DefaultCurrency is used when a receipt carries no currency hint.
const DefaultCurrency = USD

// ErrCurrencyMismatch is returned when combining amounts in different currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money wraps go-money for cent-exact arithmetic.
type Money struct {
	m *money.Money
}

// New creates a Money value from minor units.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal creates Money from a decimal, rounding half away from zero
// to the currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currencyCode = knownCurrency(currencyCode)
	currency := money.GetCurrency(currencyCode)

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := amount.Mul(multiplier).Round(0).IntPart()

	return New(cents, currencyCode)
}

// Zero returns a zero Money value for the given currency
func Zero(currencyCode string) *Money {
	return New(0, knownCurrency(currencyCode))
}

// knownCurrency falls back to DefaultCurrency for unknown codes
func knownCurrency(code string) string {
	if money.GetCurrency(code) == nil {
		return DefaultCurrency
	}
	return code
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

func (m *Money) IsPositive() bool {
	return m != nil && m.m != nil && m.m.IsPositive()
}

func (m *Money) IsNegative() bool {
	return m != nil && m.m != nil && m.m.IsNegative()
}

// Add adds two Money values. Returns ErrCurrencyMismatch if currencies differ.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}

	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, ErrCurrencyMismatch
	}
	return &Money{m: result}, nil
}

// Subtract subtracts other from m. Returns ErrCurrencyMismatch if currencies differ.
func (m *Money) Subtract(other *Money) (*Money, error) {
	if other == nil || other.m == nil {
		return m, nil
	}
	if m == nil || m.m == nil {
		return &Money{m: other.m.Negative()}, nil
	}

	result, err := m.m.Subtract(other.m)
	if err != nil {
		return nil, ErrCurrencyMismatch
	}
	return &Money{m: result}, nil
}

// Display returns a formatted string for display (e.g., "$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	return m.ToDecimal().StringFixed(m.fraction())
}

// ToDecimal converts to decimal.Decimal for further calculation
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -m.fraction())
}

func (m *Money) fraction() int32 {
	if m == nil || m.m == nil {
		return 2
	}
	return int32(m.m.Currency().Fraction)
}

// ============================================================================
// Receipt helpers
// ============================================================================

// Sum adds decimal amounts in minor units of the given currency and returns
// the exact total. Each amount is first rounded to the minor unit.
func Sum(currencyCode string, amounts ...decimal.Decimal) decimal.Decimal {
	total := Zero(currencyCode)
	for _, a := range amounts {
		// same currency by construction
		total, _ = total.Add(NewFromDecimal(a, currencyCode))
	}
	return total.ToDecimal()
}

// Diff returns a-b, each rounded to the currency's minor unit first.
func Diff(currencyCode string, a, b decimal.Decimal) decimal.Decimal {
	// same currency by construction
	d, _ := NewFromDecimal(a, currencyCode).Subtract(NewFromDecimal(b, currencyCode))
	return d.ToDecimal()
}

// Display formats a decimal amount with the currency's symbol, e.g. "$14.40".
func Display(amount decimal.Decimal, currencyCode string) string {
	return NewFromDecimal(amount, currencyCode).Display()
}

// Round rounds a decimal amount to the currency's minor unit.
func Round(amount decimal.Decimal, currencyCode string) decimal.Decimal {
	return NewFromDecimal(amount, currencyCode).ToDecimal()
}

// Within reports whether a and b differ by at most tolerance.
func Within(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
