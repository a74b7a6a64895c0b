package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/proloser/shopcart/internal/domain/coupon"
	"github.com/proloser/shopcart/internal/domain/product"
	"github.com/proloser/shopcart/internal/domain/tax"
)

// ErrNoActiveCart is returned by Store implementations when no persisted
// active cart exists for a user.
var ErrNoActiveCart = errors.New("no active cart")

// ProductNotFoundError indicates a referenced product does not exist in the
// catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// SelectionNotFoundError indicates a selection index does not exist for a
// product in the cart.
type SelectionNotFoundError struct {
	ProductID string
	Index     int
}

func (e *SelectionNotFoundError) Error() string {
	return fmt.Sprintf("selection %d of product %s not found", e.Index, e.ProductID)
}

// Store is the persisted-cart collaborator. The serialized order is opaque
// to implementations: one active row per user, last write wins.
type Store interface {
	FindActiveByUser(ctx context.Context, userID string) ([]byte, error)
	Upsert(ctx context.Context, userID string, data []byte) error
	DeleteActive(ctx context.Context, userID string) error
}

// Codec serializes orders for the Store.
type Codec interface {
	Encode(o *Order) ([]byte, error)
	Decode(data []byte) (*Order, error)
}

// AddItemRequest holds the input for adding an item to the cart.
type AddItemRequest struct {
	Ref        product.Ref
	Quantity   int // defaults to 1 when <= 0
	Attributes Attributes
	// Version pins a variant revision on the product snapshot.
	Version string
	// ShipRate overrides per-product shipping on the snapshot.
	ShipRate *decimal.Decimal
}

// Service owns one user's cart aggregate and implements every mutating and
// read operation on it. It assumes a single writer per session; concurrent
// mutation of the same Service is the session layer's problem to prevent.
type Service struct {
	products      product.Repository
	coupons       coupon.Repository
	jurisdictions tax.Resolver

	// store and codec enable the persistence bridge; both nil disables it.
	store Store
	codec Codec

	order  *Order
	userID string

	// Shipping rate configuration is session-scoped, not request-scoped.
	shipRate decimal.Decimal
	shipFlat bool
}

// NewService creates a cart Service. store and codec may be nil to disable
// cart persistence.
func NewService(
	products product.Repository,
	coupons coupon.Repository,
	jurisdictions tax.Resolver,
	store Store,
	codec Codec,
) *Service {
	return &Service{
		products:      products,
		coupons:       coupons,
		jurisdictions: jurisdictions,
		store:         store,
		codec:         codec,
		order:         NewOrder(),
		shipFlat:      true,
	}
}

func (s *Service) persistent() bool {
	return s.store != nil && s.codec != nil
}

// AddItem adds a product selection to the cart. A selection with attributes
// equal to an existing one for the same product merges quantities via
// UpdateItem instead of duplicating. Adding invalidates the shipping/tax
// quote and recomputes totals.
func (s *Service) AddItem(ctx context.Context, req AddItemRequest) (*LineItem, error) {
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	zctx.From(ctx).Debug("adding item",
		zap.String("product_id", req.Ref.ID()),
		zap.Int("quantity", req.Quantity),
	)

	snap, err := s.resolveSnapshot(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	if req.Version != "" {
		snap.Version = req.Version
	}
	if req.ShipRate != nil {
		snap.ShipRate = req.ShipRate
	}

	li, exists := s.order.lineItem(snap.ID)
	if exists {
		if idx := li.selectionIndex(req.Attributes); idx >= 0 {
			qty := li.Selections[idx].Quantity + req.Quantity
			if err := s.UpdateItem(ctx, snap.ID, idx, qty); err != nil {
				return nil, err
			}
			return li, nil
		}
	} else {
		li = &LineItem{Product: snap}
		s.order.LineItems = append(s.order.LineItems, li)
	}

	li.Selections = append(li.Selections, newSelection(snap, req))

	s.resetShipping()
	s.calcTotals(ctx)
	s.order.Version++
	s.persist(ctx)
	return li, nil
}

// resolveSnapshot produces the product snapshot for a reference. For plain
// by-ID adds of a product already in the cart, the existing snapshot is
// reused rather than re-fetched from the catalog.
func (s *Service) resolveSnapshot(ctx context.Context, ref product.Ref) (product.Product, error) {
	if ref.Kind() == product.RefByID {
		if li, ok := s.order.lineItem(ref.ID()); ok {
			return li.Product, nil
		}
	}
	snap, err := ref.Resolve(ctx, s.products)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.Product{}, &ProductNotFoundError{ProductID: ref.ID()}
		}
		return product.Product{}, err
	}
	return snap, nil
}

func newSelection(snap product.Product, req AddItemRequest) Selection {
	price := snap.UnitPrice()
	return Selection{
		Attributes:  req.Attributes,
		Quantity:    req.Quantity,
		UnitPrice:   price,
		Taxable:     snap.Taxable,
		Name:        snap.Name,
		Description: snap.Description,
		Subtotal:    price.Mul(decimal.NewFromInt(int64(req.Quantity))),
	}
}

// UpdateItem sets the quantity of one selection. A quantity of zero or less
// removes the selection instead. Changing a quantity clears applied coupons
// (discount eligibility may have changed), invalidates the shipping/tax
// quote, and recomputes totals.
func (s *Service) UpdateItem(ctx context.Context, productID string, selection, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, productID, selection)
	}

	li, ok := s.order.lineItem(productID)
	if !ok || selection < 0 || selection >= len(li.Selections) {
		return &SelectionNotFoundError{ProductID: productID, Index: selection}
	}

	sel := &li.Selections[selection]
	sel.Quantity = quantity
	sel.Subtotal = sel.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))

	s.order.Coupons = nil
	s.resetShipping()
	s.calcTotals(ctx)
	s.order.Version++
	s.persist(ctx)
	return nil
}

// RemoveItem deletes one selection. The line item goes with its last
// selection, and removing the last line item resets the whole cart rather
// than computing totals over an empty order.
func (s *Service) RemoveItem(ctx context.Context, productID string, selection int) error {
	li, ok := s.order.lineItem(productID)
	if !ok || selection < 0 || selection >= len(li.Selections) {
		return &SelectionNotFoundError{ProductID: productID, Index: selection}
	}

	li.Selections = append(li.Selections[:selection], li.Selections[selection+1:]...)
	if len(li.Selections) == 0 {
		s.order.removeLineItem(productID)
	}

	if s.order.Empty() {
		return s.ResetCart(ctx, true)
	}

	s.resetShipping()
	s.calcTotals(ctx)
	s.order.Version++
	s.persist(ctx)
	return nil
}

// ResetCart replaces the order with a fresh one. full=false keeps the
// customer's billing and shipping info for the next order; full=true drops
// everything. Any persisted cart record is deleted either way.
func (s *Service) ResetCart(ctx context.Context, full bool) error {
	fresh := NewOrder()
	if !full {
		fresh.Billing = s.order.Billing
		fresh.Shipping = s.order.Shipping
	}
	s.order = fresh

	if s.persistent() && s.userID != "" {
		if err := s.store.DeleteActive(ctx, s.userID); err != nil && !errors.Is(err, ErrNoActiveCart) {
			zctx.From(ctx).Warn("delete persisted cart", zap.Error(err))
		}
	}
	return nil
}

// resetShipping invalidates the contents-dependent shipping and tax quote:
// cart contents changed, so any quoted shipping amount, shipping selection
// and tax rate selection must be re-requested.
func (s *Service) resetShipping() {
	s.order.Totals.Shipping = decimal.Zero
	s.order.Totals.Tax = decimal.Zero
	s.order.Shipping = nil
	s.order.TaxRates = nil
}

// ApplyCoupon attaches the coupon with the given code to the order. Coupons
// are single-instance: applying an already-applied coupon is a no-op that
// returns false without error.
func (s *Service) ApplyCoupon(ctx context.Context, code string) (bool, error) {
	c, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return false, coupon.ErrNotFound
		}
		return false, errors.Wrap(err, "lookup coupon")
	}

	for _, applied := range s.order.Coupons {
		if applied.ID == c.ID {
			return false, nil
		}
	}

	s.order.Coupons = append(s.order.Coupons, coupon.Applied{Coupon: *c})
	s.calcTotals(ctx)
	s.order.Version++
	s.persist(ctx)
	return true, nil
}

// SetTaxRates replaces the order's tax rates wholesale and recomputes.
func (s *Service) SetTaxRates(ctx context.Context, rates []tax.Rate) {
	s.order.TaxRates = rates
	s.calcTotals(ctx)
	s.order.Version++
	s.persist(ctx)
}

// SetShipRate configures the session shipping rate. Flat rates are fixed
// amounts; percent rates above 1 are normalized to fractions (10 -> 0.10)
// and applied against the post-discount subtotal.
func (s *Service) SetShipRate(ctx context.Context, rate decimal.Decimal, flat bool) {
	if !flat && rate.GreaterThan(decimal.NewFromInt(1)) {
		rate = rate.Div(decimal.NewFromInt(100))
	}
	s.shipRate = rate
	s.shipFlat = flat
	s.calcTotals(ctx)
	s.order.Version++
	s.persist(ctx)
}

// SetShipping stores a flat shipping price and the shipping address in one
// call.
func (s *Service) SetShipping(ctx context.Context, price decimal.Decimal, info Address) {
	s.SetShipRate(ctx, price, true)
	s.SetShippingInfo(ctx, info)
}

// SetBillingInfo stores the customer billing address. Billing is
// independent of pricing, so no recompute happens.
func (s *Service) SetBillingInfo(ctx context.Context, info Address) {
	s.order.Billing = &info
	s.order.Version++
	s.persist(ctx)
}

// SetShippingInfo stores the customer shipping address. The address feeds
// jurisdiction resolution on the next totals pass.
func (s *Service) SetShippingInfo(ctx context.Context, info Address) {
	s.order.Shipping = &info
	s.order.Version++
	s.persist(ctx)
}

// SetPaymentInfo fills billing and shipping at once. When shipping is nil
// the billing address is copied over.
func (s *Service) SetPaymentInfo(ctx context.Context, billing Address, shipping *Address) {
	s.SetBillingInfo(ctx, billing)
	if shipping != nil {
		s.SetShippingInfo(ctx, *shipping)
		return
	}
	s.SetShippingInfo(ctx, billing)
}

// OrderDetails returns a read-only snapshot of the order for checkout, or
// nil when no cart exists yet.
func (s *Service) OrderDetails() *Order {
	if s.order.Empty() && !s.order.Totals.Calculated {
		return nil
	}
	return s.order.Clone()
}

// OrderMeasurements returns the aggregate shipment weight of the order.
func (s *Service) OrderMeasurements() Measurements {
	return Measurements{Weight: s.order.Weight()}
}

// MergeData reconciles the session cart with the user's persisted cart on
// login. A persisted cart is replayed through AddItem selection by
// selection, so the usual merge-by-attributes invariants hold - but only
// when the session cart has no computed totals yet. An active session cart
// takes precedence over a stale persisted one and simply overwrites it.
func (s *Service) MergeData(ctx context.Context, userID string) error {
	s.userID = userID
	if !s.persistent() || userID == "" {
		return nil
	}
	lg := zctx.From(ctx)

	data, err := s.store.FindActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveCart) {
			s.persist(ctx)
			return nil
		}
		return errors.Wrap(err, "find persisted cart")
	}

	if s.order.Totals.Calculated {
		lg.Debug("session cart active, overwriting persisted cart", zap.String("user_id", userID))
		s.persist(ctx)
		return nil
	}

	saved, err := s.codec.Decode(data)
	if err != nil {
		lg.Warn("decode persisted cart", zap.Error(err))
		s.persist(ctx)
		return nil
	}

	lg.Debug("merging persisted cart",
		zap.String("user_id", userID),
		zap.Int("line_items", len(saved.LineItems)),
	)
	for _, li := range saved.LineItems {
		for _, sel := range li.Selections {
			_, err := s.AddItem(ctx, AddItemRequest{
				Ref:        product.ByID(li.Product.ID),
				Quantity:   sel.Quantity,
				Attributes: sel.Attributes,
			})
			if err != nil {
				// The product may have been delisted since the cart was
				// persisted; skip the selection and keep merging.
				lg.Warn("replay persisted selection",
					zap.String("product_id", li.Product.ID),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// persist upserts the serialized order for the current user. Persistence
// failures never fail the in-session operation; they are logged and the
// cart stays authoritative in memory.
func (s *Service) persist(ctx context.Context) {
	if !s.persistent() || s.userID == "" {
		return
	}
	data, err := s.codec.Encode(s.order)
	if err != nil {
		zctx.From(ctx).Warn("encode cart", zap.Error(err))
		return
	}
	if err := s.store.Upsert(ctx, s.userID, data); err != nil {
		zctx.From(ctx).Warn("persist cart", zap.Error(err))
	}
}
