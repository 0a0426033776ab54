// README: Common identifiers and money helpers used across modules.
package types

import (
	"github.com/shopspring/decimal"
)

type ID string

// Epsilon is the tolerance used when comparing two money amounts.
var Epsilon = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// Round2 rounds an amount to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Differs reports whether a and b are more than Epsilon apart.
func Differs(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(Epsilon)
}

// ToCents converts an amount to the smallest currency unit, rounding half away from zero.
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// NonNegative clamps negative amounts to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
