package catalog

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EffectivePrice computes the price of an item from its base price and an
// optional discount.
//
//   - percentage: base * (1 - amount/100). Amount is validated to (0, 100)
//     where the discount is created, not here.
//   - fixed: max(0, base - amount).
//
// The result is rounded to 2 decimal places, half up. Rounding happens
// exactly once per computation: callers recomputing a price (say, after a
// base price edit) must start from the unrounded base, never from a
// previously rounded result.
func EffectivePrice(base decimal.Decimal, d *Discount) decimal.Decimal {
	if d == nil {
		return roundPrice(base)
	}

	var price decimal.Decimal
	switch d.Kind {
	case DiscountPercentage:
		price = base.Mul(hundred.Sub(d.Amount)).Div(hundred)
	case DiscountFixed:
		price = decimal.Max(decimal.Zero, base.Sub(d.Amount))
	default:
		price = base
	}
	return roundPrice(price)
}

// roundPrice rounds to 2 decimal places. decimal.Round rounds half away from
// zero, which is half-up for the non-negative values prices take.
func roundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
