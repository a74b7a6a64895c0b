package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is a per-product subtotal snapshot used when computing restricted
// discounts. Subtotal is the line's pre-discount sum.
type Line struct {
	ProductID string
	Subtotal  decimal.Decimal
}

// Discount computes the deduction for a single coupon. Coupons stack in
// application order: running is the order subtotal after all previously
// applied coupons, and store-wide percent coupons deduct against it rather
// than the raw subtotal. Restricted percent coupons deduct against the
// listed lines' own subtotals, and fixed-amount coupons ignore restrictions
// entirely.
func Discount(c *Coupon, lines []Line, running decimal.Decimal) decimal.Decimal {
	switch c.Deduction {
	case DeductionAmount:
		return c.Value
	case DeductionPercent:
		if c.Restricted() {
			restricted := decimal.Zero
			for _, line := range lines {
				if c.AppliesTo(line.ProductID) {
					restricted = restricted.Add(line.Subtotal)
				}
			}
			return restricted.Mul(c.Value).Div(hundred)
		}
		return running.Mul(c.Value).Div(hundred)
	default:
		return decimal.Zero
	}
}
