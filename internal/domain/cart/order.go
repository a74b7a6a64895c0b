package cart

import (
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/proloser/shopcart/internal/domain/coupon"
	"github.com/proloser/shopcart/internal/domain/product"
	"github.com/proloser/shopcart/internal/domain/tax"
)

// Attributes is a variant option mapping, e.g. {"color": "red", "size": "M"}.
// Two selections of the same product are the same selection iff their
// attributes are equal.
type Attributes map[string]string

// Equal reports attribute-map equality.
func (a Attributes) Equal(b Attributes) bool {
	return maps.Equal(a, b)
}

// Selection is one distinct variant/quantity combination of a product
// within a line item. UnitPrice, Taxable, Name and Description are
// snapshotted from the product at add-time. Subtotal is derived.
type Selection struct {
	Attributes  Attributes
	Quantity    int
	UnitPrice   decimal.Decimal
	Taxable     bool
	Name        string
	Description string
	Subtotal    decimal.Decimal
}

// LineSummary is the per-line-item derived summary written on every totals
// pass.
type LineSummary struct {
	Quantity       int
	Subtotal       decimal.Decimal
	AttributeCount int
}

// LineItem groups all selections of one product.
type LineItem struct {
	Product    product.Product
	Selections []Selection
	Summary    LineSummary
}

// selectionIndex returns the index of the selection with equal attributes,
// or -1 when none matches.
func (li *LineItem) selectionIndex(attrs Attributes) int {
	for i, sel := range li.Selections {
		if sel.Attributes.Equal(attrs) {
			return i
		}
	}
	return -1
}

// Address holds customer billing or shipping details. StateID drives tax
// jurisdiction resolution; the rest is independent of pricing.
type Address struct {
	FirstName string
	LastName  string
	Street    string
	Street2   string
	City      string
	StateID   string
	Zip       string
	Country   string
}

// Totals is the fully derived pricing record. Every field is recomputed
// from scratch on each calculation pass, never patched incrementally.
// Subtotal is the order subtotal after coupon deductions.
type Totals struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	GrandTotal decimal.Decimal
	// Calculated marks that at least one totals pass ran since the last
	// reset. The merge bridge uses it to detect an active session cart.
	Calculated bool
}

// Measurements is the aggregate shipment view of an order.
type Measurements struct {
	Weight decimal.Decimal
}

// Order is the cart aggregate for one user/session. Line items are kept in
// insertion order (stable for display); product IDs are unique across them.
//
// Order is not safe for concurrent mutation. The session layer must
// guarantee a single writer per cart; Version increases monotonically with
// every mutation so a persisted copy carries a staleness signal.
type Order struct {
	LineItems []*LineItem
	Coupons   []coupon.Applied
	TaxRates  []tax.Rate
	Billing   *Address
	Shipping  *Address
	Totals    Totals
	Version   int64
}

// NewOrder returns a fresh, empty order.
func NewOrder() *Order {
	return &Order{}
}

// Empty reports whether the order has no line items.
func (o *Order) Empty() bool {
	return len(o.LineItems) == 0
}

// lineItem finds the line item holding the given product, if any.
func (o *Order) lineItem(productID string) (*LineItem, bool) {
	for _, li := range o.LineItems {
		if li.Product.ID == productID {
			return li, true
		}
	}
	return nil, false
}

func (o *Order) removeLineItem(productID string) {
	o.LineItems = slices.DeleteFunc(o.LineItems, func(li *LineItem) bool {
		return li.Product.ID == productID
	})
}

// Weight sums quantity times product weight over every selection.
func (o *Order) Weight() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		for _, sel := range li.Selections {
			total = total.Add(li.Product.Weight.Mul(decimal.NewFromInt(int64(sel.Quantity))))
		}
	}
	return total
}

// Clone deep-copies the order so callers can read it without aliasing the
// live aggregate.
func (o *Order) Clone() *Order {
	c := &Order{
		Totals:  o.Totals,
		Version: o.Version,
	}
	c.LineItems = make([]*LineItem, len(o.LineItems))
	for i, li := range o.LineItems {
		cp := &LineItem{
			Product: li.Product,
			Summary: li.Summary,
		}
		cp.Selections = make([]Selection, len(li.Selections))
		for j, sel := range li.Selections {
			sel.Attributes = maps.Clone(sel.Attributes)
			cp.Selections[j] = sel
		}
		c.LineItems[i] = cp
	}
	c.Coupons = make([]coupon.Applied, len(o.Coupons))
	for i, ap := range o.Coupons {
		ap.Restrictions = slices.Clone(ap.Restrictions)
		c.Coupons[i] = ap
	}
	c.TaxRates = make([]tax.Rate, len(o.TaxRates))
	for i, r := range o.TaxRates {
		r.StateIDs = slices.Clone(r.StateIDs)
		c.TaxRates[i] = r
	}
	if o.Billing != nil {
		b := *o.Billing
		c.Billing = &b
	}
	if o.Shipping != nil {
		sh := *o.Shipping
		c.Shipping = &sh
	}
	return c
}
