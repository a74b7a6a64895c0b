package tax

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrUnresolved is returned when no tax jurisdiction can be determined:
// the order has no shipping state and no default is configured. Pricing
// treats this as "no tax", never as a failure.
var ErrUnresolved = errors.New("tax jurisdiction unresolved")

var hundred = decimal.NewFromInt(100)

// Rate is a jurisdiction-scoped tax rate. Rate is a percentage (e.g. 5
// for 5%). Accrued is derived: it is reset and re-accumulated on every
// totals pass with the tax charged under this rate.
type Rate struct {
	ID       string
	Name     string
	Rate     decimal.Decimal
	StateIDs []string
	Accrued  decimal.Decimal
}

// Applies reports whether the rate covers the given state.
func (r *Rate) Applies(stateID string) bool {
	return slices.Contains(r.StateIDs, stateID)
}

// Resolver determines the default tax jurisdiction when an order has no
// shipping address.
type Resolver interface {
	DefaultState(ctx context.Context) (string, error)
}

// Repository lists the configured tax rates, typically to feed them to the
// cart via SetTaxRates.
type Repository interface {
	ListRates(ctx context.Context) ([]Rate, error)
}

// Line is a taxable line item summary: the product's pre-discount subtotal
// and whether the product is taxable at all.
type Line struct {
	ProductID string
	Subtotal  decimal.Decimal
	Taxable   bool
}

// Accumulate prunes rates to those applying in stateID, zeroes their
// accruals, and charges every applicable rate against every taxable line.
// Rates stack additively: each applies to the line subtotal, not to another
// rate's output. It returns the applicable rates (with accruals filled in)
// and the total tax.
func Accumulate(rates []Rate, stateID string, lines []Line) ([]Rate, decimal.Decimal) {
	applicable := make([]Rate, 0, len(rates))
	for _, r := range rates {
		if r.Applies(stateID) {
			r.Accrued = decimal.Zero
			applicable = append(applicable, r)
		}
	}

	total := decimal.Zero
	if len(applicable) == 0 {
		return applicable, total
	}

	for _, line := range lines {
		if !line.Taxable {
			continue
		}
		for i := range applicable {
			amount := line.Subtotal.Mul(applicable[i].Rate).Div(hundred)
			applicable[i].Accrued = applicable[i].Accrued.Add(amount)
			total = total.Add(amount)
		}
	}

	return applicable, total
}
