package coupon

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DeductionType enumerates the supported coupon deduction strategies.
type DeductionType string

const (
	// DeductionAmount subtracts a fixed monetary value, regardless of
	// any product restrictions on the coupon.
	DeductionAmount DeductionType = "amount"
	// DeductionPercent subtracts a percentage of either the restricted
	// line items' subtotals or the running order subtotal.
	DeductionPercent DeductionType = "percent"
)

// ErrNotFound is returned when no coupon exists for a given code.
var ErrNotFound = errors.New("coupon not found")

// Coupon defines a discount rule attachable to an order.
type Coupon struct {
	ID          string
	Code        string
	Deduction   DeductionType
	Value       decimal.Decimal
	Description string
	// Restrictions limits percent deductions to the listed product IDs.
	// Empty means the coupon applies store-wide.
	Restrictions []string
}

// Restricted reports whether the coupon is limited to specific products.
func (c *Coupon) Restricted() bool { return len(c.Restrictions) > 0 }

// AppliesTo reports whether the coupon's restrictions cover a product.
func (c *Coupon) AppliesTo(productID string) bool {
	return slices.Contains(c.Restrictions, productID)
}

// Applied is a coupon attached to an order, together with the discount
// computed for it during the last totals pass.
type Applied struct {
	Coupon
	// Discount is derived; it is rewritten on every totals calculation.
	Discount decimal.Decimal
}

// Repository provides lookup of coupons by their code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}
