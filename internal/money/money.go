// Package money converts between decimal major units used on the wire and
// the int64 minor units the ledger stores.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Exponent is the number of fractional digits in a major unit.
const Exponent = 2

// MaxAmount is the largest single amount, in minor units, a posting may
// carry: one trillion major units.
const MaxAmount int64 = 100_000_000_000_000

var (
	// ErrTooPrecise rejects amounts with more fractional digits than Exponent.
	ErrTooPrecise = errors.New("amount has too many decimal places")
	// ErrOutOfRange rejects amounts whose magnitude exceeds MaxAmount.
	ErrOutOfRange = errors.New("amount out of range")
)

var maxMinor = decimal.NewFromInt(MaxAmount)

// ToMinor converts a major-unit amount to minor units without rounding.
func ToMinor(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(Exponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrTooPrecise, d.String())
	}
	if scaled.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return scaled.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Exponent)
}

// Format renders minor units with exactly Exponent fractional digits.
func Format(minor int64) string {
	return FromMinor(minor).StringFixed(Exponent)
}
