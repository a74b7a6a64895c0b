package cart

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/proloser/shopcart/internal/domain/coupon"
	"github.com/proloser/shopcart/internal/domain/tax"
)

// calcTotals is the single pricing entry point, invoked after every
// mutating operation. It recomputes every derived field from scratch and is
// idempotent: running it twice without an intervening mutation yields the
// same totals. It never fails; lookup problems degrade (zero tax, stale
// shipping) because an unpriceable cart is worse than an under-priced one.
func (s *Service) calcTotals(ctx context.Context) {
	o := s.order
	if o.Empty() {
		return
	}

	// Raw subtotal plus per-line summaries.
	subtotal := decimal.Zero
	couponLines := make([]coupon.Line, 0, len(o.LineItems))
	taxLines := make([]tax.Line, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		lineQty := 0
		lineTotal := decimal.Zero
		attrCount := 0
		for i := range li.Selections {
			sel := &li.Selections[i]
			sel.Subtotal = sel.UnitPrice.Mul(decimal.NewFromInt(int64(sel.Quantity)))
			subtotal = subtotal.Add(sel.Subtotal)
			lineQty += sel.Quantity
			lineTotal = lineTotal.Add(sel.Subtotal)
			attrCount = len(sel.Attributes)
		}
		li.Summary = LineSummary{
			Quantity:       lineQty,
			Subtotal:       lineTotal,
			AttributeCount: attrCount,
		}
		couponLines = append(couponLines, coupon.Line{
			ProductID: li.Product.ID,
			Subtotal:  lineTotal,
		})
		taxLines = append(taxLines, tax.Line{
			ProductID: li.Product.ID,
			Subtotal:  lineTotal,
			Taxable:   li.Product.Taxable,
		})
	}

	// Coupons, in application order, each against the running subtotal
	// left by the previous one.
	running := subtotal
	discountTotal := decimal.Zero
	for i := range o.Coupons {
		d := coupon.Discount(&o.Coupons[i].Coupon, couponLines, running)
		o.Coupons[i].Discount = d
		discountTotal = discountTotal.Add(d)
		running = running.Sub(d)
	}

	// Tax, charged on the pre-discount per-line subtotals. Discounts do not
	// shrink the taxable base here; that matches the system this one
	// replaces and is a deliberate policy carry-over.
	taxTotal := decimal.Zero
	if len(o.TaxRates) > 0 {
		stateID, err := s.jurisdiction(ctx)
		if err != nil {
			// Non-fatal: charge no tax and keep the configured rates so a
			// later pass with a resolvable address can still apply them.
			zctx.From(ctx).Warn("tax jurisdiction unresolved, charging no tax", zap.Error(err))
		} else {
			var applicable []tax.Rate
			applicable, taxTotal = tax.Accumulate(o.TaxRates, stateID, taxLines)
			o.TaxRates = applicable
		}
	}

	// Shipping: configured rate wins, else reuse a previously quoted
	// amount, else zero.
	shipping := decimal.Zero
	switch {
	case s.shipRate.IsPositive():
		if s.shipFlat {
			shipping = s.shipRate
		} else {
			shipping = running.Mul(s.shipRate)
		}
	case o.Totals.Shipping.IsPositive():
		shipping = o.Totals.Shipping
	}

	o.Totals = Totals{
		Subtotal:   running,
		Discount:   discountTotal,
		Tax:        taxTotal,
		Shipping:   shipping,
		GrandTotal: running.Add(taxTotal).Add(shipping),
		Calculated: true,
	}
}

// jurisdiction resolves the taxable state: the shipping address state when
// present, else the configured default.
func (s *Service) jurisdiction(ctx context.Context) (string, error) {
	if s.order.Shipping != nil && s.order.Shipping.StateID != "" {
		return s.order.Shipping.StateID, nil
	}
	if s.jurisdictions == nil {
		return "", tax.ErrUnresolved
	}
	return s.jurisdictions.DefaultState(ctx)
}
