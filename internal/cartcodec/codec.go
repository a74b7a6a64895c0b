// Package cartcodec serializes cart orders to a deterministic JSON blob for
// the persisted-cart store. The store treats the output as opaque bytes;
// determinism (sorted attribute keys, decimals as strings) keeps repeated
// upserts of an unchanged cart byte-identical.
package cartcodec

import (
	"maps"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/proloser/shopcart/internal/domain/cart"
	"github.com/proloser/shopcart/internal/domain/coupon"
	"github.com/proloser/shopcart/internal/domain/product"
	"github.com/proloser/shopcart/internal/domain/tax"
)

// Codec implements cart.Codec with a jx-backed JSON encoding.
type Codec struct{}

// New returns a Codec.
func New() Codec { return Codec{} }

// Encode serializes an order.
func (Codec) Encode(o *cart.Order) ([]byte, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("version", func(e *jx.Encoder) { e.Int64(o.Version) })
		e.Field("line_items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, li := range o.LineItems {
					encodeLineItem(e, li)
				}
			})
		})
		e.Field("coupons", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range o.Coupons {
					encodeCoupon(e, &o.Coupons[i])
				}
			})
		})
		e.Field("tax_rates", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range o.TaxRates {
					encodeTaxRate(e, &o.TaxRates[i])
				}
			})
		})
		e.Field("billing", func(e *jx.Encoder) { encodeAddress(e, o.Billing) })
		e.Field("shipping", func(e *jx.Encoder) { encodeAddress(e, o.Shipping) })
		e.Field("totals", func(e *jx.Encoder) { encodeTotals(e, o.Totals) })
	})
	return e.Bytes(), nil
}

func encodeLineItem(e *jx.Encoder, li *cart.LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product", func(e *jx.Encoder) { encodeProduct(e, li.Product) })
		e.Field("selections", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range li.Selections {
					encodeSelection(e, &li.Selections[i])
				}
			})
		})
		e.Field("summary", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Summary.Quantity) })
				e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, li.Summary.Subtotal) })
				e.Field("attribute_count", func(e *jx.Encoder) { e.Int(li.Summary.AttributeCount) })
			})
		})
	})
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
		e.Field("trial_price", func(e *jx.Encoder) { encodeOptDecimal(e, p.TrialPrice) })
		e.Field("taxable", func(e *jx.Encoder) { e.Bool(p.Taxable) })
		e.Field("weight", func(e *jx.Encoder) { encodeDecimal(e, p.Weight) })
		e.Field("variant_version", func(e *jx.Encoder) { e.Str(p.Version) })
		e.Field("ship_rate", func(e *jx.Encoder) { encodeOptDecimal(e, p.ShipRate) })
	})
}

func encodeSelection(e *jx.Encoder, sel *cart.Selection) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("attributes", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, k := range slices.Sorted(maps.Keys(sel.Attributes)) {
					e.Field(k, func(e *jx.Encoder) { e.Str(sel.Attributes[k]) })
				}
			})
		})
		e.Field("quantity", func(e *jx.Encoder) { e.Int(sel.Quantity) })
		e.Field("unit_price", func(e *jx.Encoder) { encodeDecimal(e, sel.UnitPrice) })
		e.Field("taxable", func(e *jx.Encoder) { e.Bool(sel.Taxable) })
		e.Field("name", func(e *jx.Encoder) { e.Str(sel.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(sel.Description) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, sel.Subtotal) })
	})
}

func encodeCoupon(e *jx.Encoder, ap *coupon.Applied) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(ap.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(ap.Code) })
		e.Field("deduction", func(e *jx.Encoder) { e.Str(string(ap.Deduction)) })
		e.Field("value", func(e *jx.Encoder) { encodeDecimal(e, ap.Value) })
		e.Field("description", func(e *jx.Encoder) { e.Str(ap.Description) })
		e.Field("restrictions", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range ap.Restrictions {
					e.Str(id)
				}
			})
		})
		e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, ap.Discount) })
	})
}

func encodeTaxRate(e *jx.Encoder, r *tax.Rate) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(r.Name) })
		e.Field("rate", func(e *jx.Encoder) { encodeDecimal(e, r.Rate) })
		e.Field("state_ids", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range r.StateIDs {
					e.Str(id)
				}
			})
		})
		e.Field("accrued", func(e *jx.Encoder) { encodeDecimal(e, r.Accrued) })
	})
}

func encodeAddress(e *jx.Encoder, a *cart.Address) {
	if a == nil {
		e.Null()
		return
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("first_name", func(e *jx.Encoder) { e.Str(a.FirstName) })
		e.Field("last_name", func(e *jx.Encoder) { e.Str(a.LastName) })
		e.Field("street", func(e *jx.Encoder) { e.Str(a.Street) })
		e.Field("street2", func(e *jx.Encoder) { e.Str(a.Street2) })
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		e.Field("state_id", func(e *jx.Encoder) { e.Str(a.StateID) })
		e.Field("zip", func(e *jx.Encoder) { e.Str(a.Zip) })
		e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
	})
}

func encodeTotals(e *jx.Encoder, t cart.Totals) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, t.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, t.Discount) })
		e.Field("tax", func(e *jx.Encoder) { encodeDecimal(e, t.Tax) })
		e.Field("shipping", func(e *jx.Encoder) { encodeDecimal(e, t.Shipping) })
		e.Field("grand_total", func(e *jx.Encoder) { encodeDecimal(e, t.GrandTotal) })
		e.Field("calculated", func(e *jx.Encoder) { e.Bool(t.Calculated) })
	})
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.String())
}

func encodeOptDecimal(e *jx.Encoder, d *decimal.Decimal) {
	if d == nil {
		e.Null()
		return
	}
	e.Str(d.String())
}

// Decode deserializes an order previously produced by Encode.
func (Codec) Decode(data []byte) (*cart.Order, error) {
	d := jx.DecodeBytes(data)
	o := cart.NewOrder()
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "version":
			v, err := d.Int64()
			o.Version = v
			return err
		case "line_items":
			return d.Arr(func(d *jx.Decoder) error {
				li, err := decodeLineItem(d)
				if err != nil {
					return err
				}
				o.LineItems = append(o.LineItems, li)
				return nil
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				ap, err := decodeCoupon(d)
				if err != nil {
					return err
				}
				o.Coupons = append(o.Coupons, ap)
				return nil
			})
		case "tax_rates":
			return d.Arr(func(d *jx.Decoder) error {
				r, err := decodeTaxRate(d)
				if err != nil {
					return err
				}
				o.TaxRates = append(o.TaxRates, r)
				return nil
			})
		case "billing":
			a, err := decodeAddress(d)
			o.Billing = a
			return err
		case "shipping":
			a, err := decodeAddress(d)
			o.Shipping = a
			return err
		case "totals":
			t, err := decodeTotals(d)
			o.Totals = t
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return o, nil
}

func decodeLineItem(d *jx.Decoder) (*cart.LineItem, error) {
	li := &cart.LineItem{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product":
			p, err := decodeProduct(d)
			li.Product = p
			return err
		case "selections":
			return d.Arr(func(d *jx.Decoder) error {
				sel, err := decodeSelection(d)
				if err != nil {
					return err
				}
				li.Selections = append(li.Selections, sel)
				return nil
			})
		case "summary":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "quantity":
					v, err := d.Int()
					li.Summary.Quantity = v
					return err
				case "subtotal":
					v, err := decodeDecimal(d)
					li.Summary.Subtotal = v
					return err
				case "attribute_count":
					v, err := d.Int()
					li.Summary.AttributeCount = v
					return err
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	return li, err
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "trial_price":
			p.TrialPrice, err = decodeOptDecimal(d)
		case "taxable":
			p.Taxable, err = d.Bool()
		case "weight":
			p.Weight, err = decodeDecimal(d)
		case "variant_version":
			p.Version, err = d.Str()
		case "ship_rate":
			p.ShipRate, err = decodeOptDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

func decodeSelection(d *jx.Decoder) (cart.Selection, error) {
	var sel cart.Selection
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "attributes":
			sel.Attributes = cart.Attributes{}
			return d.Obj(func(d *jx.Decoder, k string) error {
				v, err := d.Str()
				sel.Attributes[k] = v
				return err
			})
		case "quantity":
			sel.Quantity, err = d.Int()
		case "unit_price":
			sel.UnitPrice, err = decodeDecimal(d)
		case "taxable":
			sel.Taxable, err = d.Bool()
		case "name":
			sel.Name, err = d.Str()
		case "description":
			sel.Description, err = d.Str()
		case "subtotal":
			sel.Subtotal, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return sel, err
}

func decodeCoupon(d *jx.Decoder) (coupon.Applied, error) {
	var ap coupon.Applied
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			ap.ID, err = d.Str()
		case "code":
			ap.Code, err = d.Str()
		case "deduction":
			var v string
			v, err = d.Str()
			ap.Deduction = coupon.DeductionType(v)
		case "value":
			ap.Value, err = decodeDecimal(d)
		case "description":
			ap.Description, err = d.Str()
		case "restrictions":
			return d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				if err != nil {
					return err
				}
				ap.Restrictions = append(ap.Restrictions, id)
				return nil
			})
		case "discount":
			ap.Discount, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return ap, err
}

func decodeTaxRate(d *jx.Decoder) (tax.Rate, error) {
	var r tax.Rate
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			r.ID, err = d.Str()
		case "name":
			r.Name, err = d.Str()
		case "rate":
			r.Rate, err = decodeDecimal(d)
		case "state_ids":
			return d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				if err != nil {
					return err
				}
				r.StateIDs = append(r.StateIDs, id)
				return nil
			})
		case "accrued":
			r.Accrued, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return r, err
}

func decodeAddress(d *jx.Decoder) (*cart.Address, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	a := &cart.Address{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "first_name":
			a.FirstName, err = d.Str()
		case "last_name":
			a.LastName, err = d.Str()
		case "street":
			a.Street, err = d.Str()
		case "street2":
			a.Street2, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "state_id":
			a.StateID, err = d.Str()
		case "zip":
			a.Zip, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

func decodeTotals(d *jx.Decoder) (cart.Totals, error) {
	var t cart.Totals
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "subtotal":
			t.Subtotal, err = decodeDecimal(d)
		case "discount":
			t.Discount, err = decodeDecimal(d)
		case "tax":
			t.Tax, err = decodeDecimal(d)
		case "shipping":
			t.Shipping, err = decodeDecimal(d)
		case "grand_total":
			t.GrandTotal, err = decodeDecimal(d)
		case "calculated":
			t.Calculated, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return t, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse decimal %q", s)
	}
	return v, nil
}

func decodeOptDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
