package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog record. Cart line items keep a snapshot of these
// fields from the moment the item was added; catalog updates do not
// retroactively change a cart.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	// TrialPrice, when set, takes precedence over Price at add-time.
	TrialPrice *decimal.Decimal
	Taxable    bool
	Weight     decimal.Decimal
	// Version pins a variant revision for recurring products.
	Version string
	// ShipRate is a per-product shipping override carried on the snapshot.
	ShipRate *decimal.Decimal
}

// UnitPrice returns the price a new selection snapshots: the trial price
// when one is set, the regular price otherwise.
func (p Product) UnitPrice() decimal.Decimal {
	if p.TrialPrice != nil {
		return *p.TrialPrice
	}
	return p.Price
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}
