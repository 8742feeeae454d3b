// Package amount converts between human display amounts and integer
// smallest-unit amounts at a token's native precision. All arithmetic is
// exact decimal; binary floating point is never involved, since a one-unit
// rounding error is enough to fail a payment verification.
package amount

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MaxDecimals caps the supported token precision. SPL mints use uint8
// decimals; anything past 18 is outside what int64 smallest units can hold
// for meaningful amounts.
const MaxDecimals = 18

// ToSmallestUnit converts a display amount to smallest units, flooring any
// precision beyond the token's decimals. Negative amounts are a caller
// contract violation.
func ToSmallestUnit(display decimal.Decimal, decimals uint8) (int64, error) {
	if decimals > MaxDecimals {
		return 0, fmt.Errorf("token decimals %d exceed supported maximum %d", decimals, MaxDecimals)
	}
	if display.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", display)
	}
	shifted := display.Shift(int32(decimals)).Floor()
	if shifted.Cmp(decimal.NewFromInt(math.MaxInt64)) > 0 {
		return 0, fmt.Errorf("amount %s overflows smallest units at %d decimals", display, decimals)
	}
	return shifted.IntPart(), nil
}

// ToDisplay converts smallest units back to a display amount.
func ToDisplay(smallest int64, decimals uint8) decimal.Decimal {
	return decimal.New(smallest, -int32(decimals))
}
