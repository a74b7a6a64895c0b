package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RefKind discriminates the ways a caller can identify a product.
type RefKind int

const (
	// RefByID resolves the product entirely from the catalog.
	RefByID RefKind = iota
	// RefWithOverride resolves from the catalog, then layers caller-supplied
	// fields on top of the canonical record.
	RefWithOverride
	// RefCustom uses the supplied product as-is, without a catalog lookup.
	RefCustom
)

// Override holds caller-supplied fields layered over a catalog record.
// Zero-valued fields are ignored.
type Override struct {
	Name        string
	Description string
	Price       *decimal.Decimal
	Taxable     *bool
	Weight      *decimal.Decimal
}

// Ref identifies a product polymorphically: by catalog ID, by ID plus
// overrides, or as a fully custom product with no catalog backing.
type Ref struct {
	kind     RefKind
	id       string
	override Override
	custom   Product
}

// ByID references a catalog product by its identifier.
func ByID(id string) Ref {
	return Ref{kind: RefByID, id: id}
}

// WithOverride references a catalog product and overrides selected fields.
func WithOverride(id string, o Override) Ref {
	return Ref{kind: RefWithOverride, id: id, override: o}
}

// Custom references a product that does not exist in the catalog.
func Custom(p Product) Ref {
	return Ref{kind: RefCustom, custom: p}
}

// Kind reports how this reference resolves.
func (r Ref) Kind() RefKind { return r.kind }

// ID returns the catalog identifier for ByID and WithOverride references,
// and the embedded product's ID for Custom ones.
func (r Ref) ID() string {
	if r.kind == RefCustom {
		return r.custom.ID
	}
	return r.id
}

// Resolve dispatches on the reference kind and produces the product snapshot
// a cart selection will capture. Catalog misses surface as ErrNotFound.
func (r Ref) Resolve(ctx context.Context, repo Repository) (Product, error) {
	switch r.kind {
	case RefCustom:
		return r.custom, nil
	case RefByID, RefWithOverride:
		p, err := repo.GetByID(ctx, r.id)
		if err != nil {
			return Product{}, errors.Wrapf(err, "resolve product %q", r.id)
		}
		snap := *p
		if r.kind == RefWithOverride {
			applyOverride(&snap, r.override)
		}
		return snap, nil
	default:
		return Product{}, errors.Errorf("unsupported product ref kind: %d", r.kind)
	}
}

func applyOverride(p *Product, o Override) {
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.Description != "" {
		p.Description = o.Description
	}
	if o.Price != nil {
		p.Price = *o.Price
	}
	if o.Taxable != nil {
		p.Taxable = *o.Taxable
	}
	if o.Weight != nil {
		p.Weight = *o.Weight
	}
}
