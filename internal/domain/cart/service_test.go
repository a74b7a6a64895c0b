package cart

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proloser/shopcart/internal/domain/coupon"
	"github.com/proloser/shopcart/internal/domain/product"
	"github.com/proloser/shopcart/internal/domain/tax"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
	hits   int
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.hits++
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

type mockCouponRepo struct {
	byCode map[string]*coupon.Coupon
	err    error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

type mockResolver struct {
	state string
	err   error
}

func (m *mockResolver) DefaultState(_ context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.state, nil
}

type mockStore struct {
	data      []byte
	findErr   error
	upsertErr error
	upserts   int
	deletes   int
}

func (m *mockStore) FindActiveByUser(_ context.Context, _ string) ([]byte, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.data == nil {
		return nil, ErrNoActiveCart
	}
	return m.data, nil
}

func (m *mockStore) Upsert(_ context.Context, _ string, data []byte) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.data = data
	return nil
}

func (m *mockStore) DeleteActive(_ context.Context, _ string) error {
	m.deletes++
	m.data = nil
	return nil
}

// jsonCodec is a stand-in for the production codec; any stable round-trip
// encoding works for the service.
type jsonCodec struct{}

func (jsonCodec) Encode(o *Order) ([]byte, error) { return json.Marshal(o) }

func (jsonCodec) Decode(data []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestProduct(id, name string, price decimal.Decimal, taxable bool) product.Product {
	return product.Product{
		ID:      id,
		Name:    name,
		Price:   price,
		Taxable: taxable,
		Weight:  d("1.5"),
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

func newCouponRepo(coupons ...coupon.Coupon) *mockCouponRepo {
	byCode := make(map[string]*coupon.Coupon, len(coupons))
	for i := range coupons {
		byCode[coupons[i].Code] = &coupons[i]
	}
	return &mockCouponRepo{byCode: byCode}
}

func newTestService(products *mockProductRepo, coupons *mockCouponRepo, resolver tax.Resolver) *Service {
	return NewService(products, coupons, resolver, nil, nil)
}

func caRate(pct string) tax.Rate {
	return tax.Rate{ID: "t-ca", Name: "CA sales tax", Rate: d(pct), StateIDs: []string{"CA"}}
}

// --- Line item manager ---

func TestAddItem_ProductNotFound(t *testing.T) {
	svc := newTestService(newProductRepo(), newCouponRepo(), nil)

	_, err := svc.AddItem(context.Background(), AddItemRequest{Ref: product.ByID("missing")})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
	assert.Nil(t, svc.OrderDetails())
}

func TestAddItem_SubtotalComputed(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)

	li, err := svc.AddItem(context.Background(), AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})

	require.NoError(t, err)
	require.Len(t, li.Selections, 1)
	assert.True(t, d("20.00").Equal(li.Selections[0].Subtotal))

	o := svc.OrderDetails()
	require.NotNil(t, o)
	assert.True(t, d("20.00").Equal(o.Totals.Subtotal))
	assert.True(t, o.Totals.Tax.IsZero())
	assert.True(t, d("20.00").Equal(o.Totals.GrandTotal))
}

func TestAddItem_MergesEqualAttributes(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	attrs := Attributes{"color": "red"}
	for _, qty := range []int{1, 2, 3} {
		_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: qty, Attributes: attrs})
		require.NoError(t, err)
	}

	o := svc.OrderDetails()
	require.Len(t, o.LineItems, 1)
	require.Len(t, o.LineItems[0].Selections, 1)
	assert.Equal(t, 6, o.LineItems[0].Selections[0].Quantity)
	assert.True(t, d("60.00").Equal(o.Totals.Subtotal))
}

func TestAddItem_DistinctAttributesStaySeparate(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Attributes: Attributes{"color": "red"}})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Attributes: Attributes{"color": "blue"}})
	require.NoError(t, err)

	o := svc.OrderDetails()
	require.Len(t, o.LineItems, 1)
	assert.Len(t, o.LineItems[0].Selections, 2)
	assert.Equal(t, 2, o.LineItems[0].Summary.Quantity)
}

func TestAddItem_ReusesSnapshotForKnownProduct(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	repo := newProductRepo(p1)
	svc := newTestService(repo, newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Attributes: Attributes{"v": "1"}})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Attributes: Attributes{"v": "2"}})
	require.NoError(t, err)

	// Second add reuses the cart's snapshot instead of hitting the catalog.
	assert.Equal(t, 1, repo.hits)
}

func TestAddItem_TrialPricePreferred(t *testing.T) {
	trial := d("1.00")
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	p1.TrialPrice = &trial
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)

	li, err := svc.AddItem(context.Background(), AddItemRequest{Ref: product.ByID("p1"), Quantity: 3})

	require.NoError(t, err)
	assert.True(t, d("1.00").Equal(li.Selections[0].UnitPrice))
	assert.True(t, d("3.00").Equal(svc.OrderDetails().Totals.Subtotal))
}

func TestAddItem_CustomProductSkipsCatalog(t *testing.T) {
	repo := newProductRepo()
	svc := newTestService(repo, newCouponRepo(), nil)

	custom := product.Product{ID: "gift-wrap", Name: "Gift wrap", Price: d("2.50")}
	li, err := svc.AddItem(context.Background(), AddItemRequest{Ref: product.Custom(custom)})

	require.NoError(t, err)
	assert.Equal(t, 0, repo.hits)
	assert.Equal(t, "Gift wrap", li.Selections[0].Name)
	assert.True(t, d("2.50").Equal(svc.OrderDetails().Totals.Subtotal))
}

func TestAddItem_OverrideMergesOnCanonicalRecord(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)

	price := d("8.00")
	li, err := svc.AddItem(context.Background(), AddItemRequest{
		Ref: product.WithOverride("p1", product.Override{Name: "Widget (sale)", Price: &price}),
	})

	require.NoError(t, err)
	assert.Equal(t, "Widget (sale)", li.Product.Name)
	assert.True(t, d("8.00").Equal(li.Selections[0].UnitPrice))
	// Fields without overrides keep the catalog values.
	assert.True(t, li.Product.Taxable)
}

func TestUpdateItem_SelectionNotFound(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)

	var snfErr *SelectionNotFoundError
	require.ErrorAs(t, svc.UpdateItem(ctx, "p1", 5, 1), &snfErr)
	assert.Equal(t, 5, snfErr.Index)
	require.ErrorAs(t, svc.UpdateItem(ctx, "nope", 0, 1), &snfErr)
}

func TestUpdateItem_ClearsCoupons(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	c := coupon.Coupon{ID: "c1", Code: "SAVE20", Deduction: coupon.DeductionPercent, Value: d("20")}
	svc := newTestService(newProductRepo(p1), newCouponRepo(c), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)
	applied, err := svc.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, svc.UpdateItem(ctx, "p1", 0, 5))

	o := svc.OrderDetails()
	assert.Empty(t, o.Coupons)
	assert.True(t, d("50.00").Equal(o.Totals.Subtotal))
	assert.True(t, o.Totals.Discount.IsZero())
}

func TestUpdateItem_ZeroQuantityRemoves(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	p2 := newTestProduct("p2", "Gadget", d("5.00"), true)
	svc := newTestService(newProductRepo(p1, p2), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p2")})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateItem(ctx, "p1", 0, 0))

	o := svc.OrderDetails()
	require.Len(t, o.LineItems, 1)
	assert.Equal(t, "p2", o.LineItems[0].Product.ID)
}

func TestRemoveItem_LastSelectionResetsCart(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)
	require.NotNil(t, svc.OrderDetails())

	require.NoError(t, svc.RemoveItem(ctx, "p1", 0))

	// Cart reset: no lingering empty order with stale totals.
	assert.Nil(t, svc.OrderDetails())
	assert.True(t, svc.OrderMeasurements().Weight.IsZero())
}

func TestResetCart_PartialKeepsAddresses(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)
	svc.SetBillingInfo(ctx, Address{City: "Oakland", StateID: "CA"})
	svc.SetShippingInfo(ctx, Address{City: "Oakland", StateID: "CA"})

	require.NoError(t, svc.ResetCart(ctx, false))

	assert.True(t, svc.order.Empty())
	require.NotNil(t, svc.order.Billing)
	assert.Equal(t, "Oakland", svc.order.Billing.City)
	require.NotNil(t, svc.order.Shipping)

	require.NoError(t, svc.ResetCart(ctx, true))
	assert.Nil(t, svc.order.Billing)
	assert.Nil(t, svc.order.Shipping)
}

// --- Coupon engine ---

func TestApplyCoupon_NotFound(t *testing.T) {
	svc := newTestService(newProductRepo(), newCouponRepo(), nil)

	ok, err := svc.ApplyCoupon(context.Background(), "BOGUS")

	assert.False(t, ok)
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestApplyCoupon_DuplicateIsNoOp(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	c := coupon.Coupon{ID: "c1", Code: "SAVE20", Deduction: coupon.DeductionPercent, Value: d("20")}
	svc := newTestService(newProductRepo(p1), newCouponRepo(c), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)

	first, err := svc.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := svc.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)
	assert.False(t, second)

	assert.Len(t, svc.OrderDetails().Coupons, 1)
}

func TestApplyCoupon_RestrictedPercent(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	p2 := newTestProduct("p2", "Gadget", d("30.00"), true)
	c := coupon.Coupon{
		ID: "c1", Code: "WIDGET10",
		Deduction: coupon.DeductionPercent, Value: d("10"),
		Restrictions: []string{"p1"},
	}
	svc := newTestService(newProductRepo(p1, p2), newCouponRepo(c), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p2")})
	require.NoError(t, err)

	_, err = svc.ApplyCoupon(ctx, "WIDGET10")
	require.NoError(t, err)

	o := svc.OrderDetails()
	// 10% of p1's 20.00 only.
	assert.True(t, d("2.00").Equal(o.Totals.Discount))
	assert.True(t, d("48.00").Equal(o.Totals.Subtotal))
	assert.True(t, d("2.00").Equal(o.Coupons[0].Discount))
}

func TestApplyCoupon_AmountThenPercentStack(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("50.00"), true)
	amount := coupon.Coupon{ID: "c1", Code: "TENOFF", Deduction: coupon.DeductionAmount, Value: d("10.00")}
	percent := coupon.Coupon{ID: "c2", Code: "HALF", Deduction: coupon.DeductionPercent, Value: d("50")}
	svc := newTestService(newProductRepo(p1), newCouponRepo(amount, percent), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "TENOFF")
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "HALF")
	require.NoError(t, err)

	o := svc.OrderDetails()
	// 100 - 10 = 90, then 50% of the running 90 = 45.
	assert.True(t, d("10.00").Equal(o.Coupons[0].Discount))
	assert.True(t, d("45.00").Equal(o.Coupons[1].Discount))
	assert.True(t, d("55.00").Equal(o.Totals.Discount))
	assert.True(t, d("45.00").Equal(o.Totals.Subtotal))
}

// --- Tax engine ---

func TestSetTaxRates_MatchingJurisdiction(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), &mockResolver{state: "CA"})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)

	svc.SetTaxRates(ctx, []tax.Rate{caRate("5")})

	o := svc.OrderDetails()
	assert.True(t, d("1.00").Equal(o.Totals.Tax))
	assert.True(t, d("21.00").Equal(o.Totals.GrandTotal))
	require.Len(t, o.TaxRates, 1)
	assert.True(t, d("1.00").Equal(o.TaxRates[0].Accrued))
}

func TestSetTaxRates_ShippingStateWinsOverDefault(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), &mockResolver{state: "CA"})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)
	svc.SetShippingInfo(ctx, Address{StateID: "NY"})

	svc.SetTaxRates(ctx, []tax.Rate{caRate("5")})

	// CA rate does not apply in NY; it is pruned from the order.
	o := svc.OrderDetails()
	assert.True(t, o.Totals.Tax.IsZero())
	assert.Empty(t, o.TaxRates)
}

func TestSetTaxRates_NonTaxableProduct(t *testing.T) {
	p1 := newTestProduct("p1", "Groceries", d("10.00"), false)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), &mockResolver{state: "CA"})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 4})
	require.NoError(t, err)

	svc.SetTaxRates(ctx, []tax.Rate{caRate("5")})

	o := svc.OrderDetails()
	assert.True(t, o.Totals.Tax.IsZero())
	assert.True(t, d("40.00").Equal(o.Totals.GrandTotal))
}

func TestSetTaxRates_UnresolvedJurisdictionChargesNoTax(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), &mockResolver{err: tax.ErrUnresolved})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)

	// Must not fail; pricing always produces a total.
	svc.SetTaxRates(ctx, []tax.Rate{caRate("5")})

	o := svc.OrderDetails()
	assert.True(t, o.Totals.Tax.IsZero())
	assert.True(t, d("10.00").Equal(o.Totals.GrandTotal))
	// Rates are kept so a later pass with a shipping address can use them.
	assert.Len(t, o.TaxRates, 1)
}

func TestTax_ComputedOnPreDiscountSubtotal(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	c := coupon.Coupon{ID: "c1", Code: "SAVE20", Deduction: coupon.DeductionPercent, Value: d("20")}
	svc := newTestService(newProductRepo(p1), newCouponRepo(c), &mockResolver{state: "CA"})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)
	svc.SetTaxRates(ctx, []tax.Rate{caRate("5")})

	_, err = svc.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)

	o := svc.OrderDetails()
	assert.True(t, d("4.00").Equal(o.Totals.Discount))
	assert.True(t, d("16.00").Equal(o.Totals.Subtotal))
	// Tax on the pre-discount 20.00, not the discounted 16.00.
	assert.True(t, d("1.00").Equal(o.Totals.Tax))
	assert.True(t, d("17.00").Equal(o.Totals.GrandTotal))
}

// --- Shipping ---

func TestSetShipRate_Flat(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)

	svc.SetShipRate(ctx, d("5.00"), true)

	o := svc.OrderDetails()
	assert.True(t, d("5.00").Equal(o.Totals.Shipping))
	assert.True(t, d("25.00").Equal(o.Totals.GrandTotal))
}

func TestSetShipRate_PercentNormalized(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)

	svc.SetShipRate(ctx, d("10"), false)

	o := svc.OrderDetails()
	assert.True(t, d("2.00").Equal(o.Totals.Shipping), "got %s", o.Totals.Shipping)
	assert.True(t, d("22.00").Equal(o.Totals.GrandTotal))
}

func TestCalcTotals_ReusesExternalShippingQuote(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	svc := newTestService(newProductRepo(p1), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)

	// Simulate an external shipping quote stored on the totals.
	svc.order.Totals.Shipping = d("7.25")
	svc.calcTotals(ctx)

	o := svc.OrderDetails()
	assert.True(t, d("7.25").Equal(o.Totals.Shipping))
	assert.True(t, d("17.25").Equal(o.Totals.GrandTotal))
}

// --- Totals calculator ---

func TestCalcTotals_Idempotent(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	c := coupon.Coupon{ID: "c1", Code: "SAVE20", Deduction: coupon.DeductionPercent, Value: d("20")}
	svc := newTestService(newProductRepo(p1), newCouponRepo(c), &mockResolver{state: "CA"})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)
	svc.SetTaxRates(ctx, []tax.Rate{caRate("5")})
	_, err = svc.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)
	svc.SetShipRate(ctx, d("5.00"), true)

	first := svc.OrderDetails().Totals
	svc.calcTotals(ctx)
	svc.calcTotals(ctx)
	second := svc.OrderDetails().Totals

	assert.True(t, first.Subtotal.Equal(second.Subtotal))
	assert.True(t, first.Discount.Equal(second.Discount))
	assert.True(t, first.Tax.Equal(second.Tax))
	assert.True(t, first.Shipping.Equal(second.Shipping))
	assert.True(t, first.GrandTotal.Equal(second.GrandTotal))
}

func TestCalcTotals_EmptyCartIsNoOp(t *testing.T) {
	svc := newTestService(newProductRepo(), newCouponRepo(), nil)

	svc.calcTotals(context.Background())

	assert.False(t, svc.order.Totals.Calculated)
	assert.True(t, svc.order.Totals.GrandTotal.IsZero())
}

// --- Measurements ---

func TestOrderMeasurements_SumsWeight(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true) // weight 1.5
	p2 := newTestProduct("p2", "Gadget", d("5.00"), true)
	p2.Weight = d("0.5")
	svc := newTestService(newProductRepo(p1, p2), newCouponRepo(), nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1"), Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p2"), Quantity: 3})
	require.NoError(t, err)

	m := svc.OrderMeasurements()
	assert.True(t, d("4.5").Equal(m.Weight), "got %s", m.Weight)
}

// --- Persistence bridge ---

func TestMergeData_NoPersistedCartUpsertsSession(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	store := &mockStore{}
	svc := NewService(newProductRepo(p1), newCouponRepo(), nil, store, jsonCodec{})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)
	require.Equal(t, 0, store.upserts) // anonymous: nothing persisted yet

	require.NoError(t, svc.MergeData(ctx, "user-1"))

	assert.Equal(t, 1, store.upserts)
	assert.NotNil(t, store.data)
}

func TestMergeData_ReplaysPersistedCartIntoEmptySession(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	store := &mockStore{}
	codec := jsonCodec{}

	// A previously persisted cart with two selections of the same product.
	saved := NewOrder()
	saved.LineItems = []*LineItem{{
		Product: p1,
		Selections: []Selection{
			{Attributes: Attributes{"color": "red"}, Quantity: 2, UnitPrice: d("10.00")},
			{Attributes: Attributes{"color": "blue"}, Quantity: 1, UnitPrice: d("10.00")},
		},
	}}
	var err error
	store.data, err = codec.Encode(saved)
	require.NoError(t, err)

	svc := NewService(newProductRepo(p1), newCouponRepo(), nil, store, codec)
	ctx := context.Background()

	require.NoError(t, svc.MergeData(ctx, "user-1"))

	o := svc.OrderDetails()
	require.NotNil(t, o)
	require.Len(t, o.LineItems, 1)
	assert.Len(t, o.LineItems[0].Selections, 2)
	assert.Equal(t, 3, o.LineItems[0].Summary.Quantity)
	assert.True(t, d("30.00").Equal(o.Totals.Subtotal))
}

func TestMergeData_ActiveSessionCartWins(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	p2 := newTestProduct("p2", "Gadget", d("99.00"), true)
	store := &mockStore{}
	codec := jsonCodec{}

	stale := NewOrder()
	stale.LineItems = []*LineItem{{
		Product:    p2,
		Selections: []Selection{{Quantity: 7, UnitPrice: d("99.00")}},
	}}
	var err error
	store.data, err = codec.Encode(stale)
	require.NoError(t, err)

	svc := NewService(newProductRepo(p1, p2), newCouponRepo(), nil, store, codec)
	ctx := context.Background()

	// The session already has computed totals before the user logs in.
	_, err = svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)

	require.NoError(t, svc.MergeData(ctx, "user-1"))

	o := svc.OrderDetails()
	require.Len(t, o.LineItems, 1)
	assert.Equal(t, "p1", o.LineItems[0].Product.ID)
	// The stale persisted cart was overwritten, not merged.
	restored, err := codec.Decode(store.data)
	require.NoError(t, err)
	require.Len(t, restored.LineItems, 1)
	assert.Equal(t, "p1", restored.LineItems[0].Product.ID)
}

func TestMergeData_SkipsDelistedProducts(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	gone := newTestProduct("gone", "Discontinued", d("1.00"), true)
	store := &mockStore{}
	codec := jsonCodec{}

	saved := NewOrder()
	saved.LineItems = []*LineItem{
		{Product: gone, Selections: []Selection{{Quantity: 1, UnitPrice: d("1.00")}}},
		{Product: p1, Selections: []Selection{{Quantity: 2, UnitPrice: d("10.00")}}},
	}
	var err error
	store.data, err = codec.Encode(saved)
	require.NoError(t, err)

	// Catalog only knows p1 now.
	svc := NewService(newProductRepo(p1), newCouponRepo(), nil, store, codec)

	require.NoError(t, svc.MergeData(context.Background(), "user-1"))

	o := svc.OrderDetails()
	require.Len(t, o.LineItems, 1)
	assert.Equal(t, "p1", o.LineItems[0].Product.ID)
}

func TestPersistence_UpsertAfterMutations(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	c := coupon.Coupon{ID: "c1", Code: "SAVE20", Deduction: coupon.DeductionPercent, Value: d("20")}
	store := &mockStore{}
	svc := NewService(newProductRepo(p1), newCouponRepo(c), nil, store, jsonCodec{})
	ctx := context.Background()

	require.NoError(t, svc.MergeData(ctx, "user-1"))
	upserts := store.upserts

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)
	assert.Greater(t, store.upserts, upserts)

	upserts = store.upserts
	_, err = svc.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)
	assert.Greater(t, store.upserts, upserts)
}

func TestPersistence_DeleteOnReset(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	store := &mockStore{}
	svc := NewService(newProductRepo(p1), newCouponRepo(), nil, store, jsonCodec{})
	ctx := context.Background()

	require.NoError(t, svc.MergeData(ctx, "user-1"))
	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(ctx, "p1", 0))

	assert.Equal(t, 1, store.deletes)
	assert.Nil(t, store.data)
}

func TestPersistence_FailureDoesNotFailOperation(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", d("10.00"), true)
	store := &mockStore{upsertErr: errors.New("db down")}
	svc := NewService(newProductRepo(p1), newCouponRepo(), nil, store, jsonCodec{})
	ctx := context.Background()

	require.NoError(t, svc.MergeData(ctx, "user-1"))

	_, err := svc.AddItem(ctx, AddItemRequest{Ref: product.ByID("p1")})
	require.NoError(t, err)
	assert.True(t, d("10.00").Equal(svc.OrderDetails().Totals.Subtotal))
}
