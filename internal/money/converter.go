package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidFormat occurs when an amount string cannot be parsed.
	ErrInvalidFormat = errors.New("money: invalid format")

	// ErrNegativeAmount occurs when a negative amount is supplied where only positive values are valid.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")
)

// ToProcessorUnits converts a decimal amount to the processor's smallest-unit integer.
// Rounding is half away from zero.
//
// Examples:
//   - ToProcessorUnits(19.99, "usd")  → 1999
//   - ToProcessorUnits(1000, "JPY")   → 1000
//   - ToProcessorUnits(100.6, "HUF")  → 101
func ToProcessorUnits(amount decimal.Decimal, currency string) int64 {
	d := Decimals(currency)
	if d == 0 {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(d).Round(0).IntPart()
}

// FromProcessorUnits converts a smallest-unit integer back to a decimal amount.
func FromProcessorUnits(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -Decimals(currency))
}

// ParseAmount parses a major-unit amount string such as "19.99".
// Empty input yields zero so callers can treat it as "not provided".
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNegativeAmount, raw)
	}
	return amount, nil
}

// Format renders smallest units as a display string, e.g. "19.99 USD".
func Format(units int64, currency string) string {
	d := Decimals(currency)
	return FromProcessorUnits(units, currency).StringFixed(d) + " " + NormalizeCode(currency)
}
