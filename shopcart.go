// Package shopcart wires the cart domain, pricing engine, and PostgreSQL
// repositories into a ready-to-use application object. One App serves many
// sessions; each user session gets its own cart Service.
package shopcart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proloser/shopcart/internal/cartcodec"
	"github.com/proloser/shopcart/internal/domain/cart"
	"github.com/proloser/shopcart/internal/domain/coupon"
	"github.com/proloser/shopcart/internal/domain/product"
	"github.com/proloser/shopcart/internal/domain/tax"
	"github.com/proloser/shopcart/internal/repository"
)

// Config holds the application configuration.
type Config struct {
	// DatabaseURL is the PostgreSQL connection URL.
	DatabaseURL string
	// DefaultState is the store's home jurisdiction abbreviation (e.g.
	// "CA"), used for tax when an order has no shipping address.
	DefaultState string
	// Migrate runs the embedded schema migrations on startup.
	Migrate bool
}

// App holds the shared repositories behind every cart session.
type App struct {
	pool *pgxpool.Pool

	Products product.Repository
	Coupons  coupon.Repository
	TaxRates tax.Repository
	States   tax.Resolver
	Carts    cart.Store
}

// New connects to the database and builds the application. The caller owns
// the App and must Close it.
func New(ctx context.Context, cfg Config) (*App, error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}

	if cfg.Migrate {
		if err := repository.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
	}

	return &App{
		pool:     pool,
		Products: repository.NewProductRepository(pool),
		Coupons:  repository.NewCouponRepository(pool),
		TaxRates: repository.NewTaxRateRepository(pool),
		States:   repository.NewStateRepository(pool, cfg.DefaultState),
		Carts:    repository.NewCartRepository(pool),
	}, nil
}

// Session returns a cart Service for one user session. The service is not
// safe for concurrent use; create one per session.
func (a *App) Session() *cart.Service {
	return cart.NewService(a.Products, a.Coupons, a.States, a.Carts, cartcodec.New())
}

// Close releases the database pool.
func (a *App) Close() {
	a.pool.Close()
}
