// Command seed-db creates the database schema and loads the product
// catalog, tax configuration, and demo coupons.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/proloser/shopcart/internal/domain/coupon"
	"github.com/proloser/shopcart/internal/domain/product"
	"github.com/proloser/shopcart/internal/domain/tax"
	"github.com/proloser/shopcart/internal/repository"
)

type productJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `json:"price"`
	TrialPrice  *decimal.Decimal `json:"trial_price"`
	Taxable     bool             `json:"taxable"`
	Weight      decimal.Decimal  `json:"weight"`
	Version     string           `json:"version"`
	ShipRate    *decimal.Decimal `json:"ship_rate"`
}

type stateSeed struct {
	id, name, abbreviation string
}

var stateSeeds = []stateSeed{
	{"state-ca", "California", "CA"},
	{"state-ny", "New York", "NY"},
	{"state-wa", "Washington", "WA"},
	{"state-tx", "Texas", "TX"},
	{"state-or", "Oregon", "OR"},
}

var taxRateSeeds = []tax.Rate{
	{ID: "tax-ca-sales", Name: "California sales tax", Rate: decimal.RequireFromString("7.25"), StateIDs: []string{"state-ca"}},
	{ID: "tax-ny-sales", Name: "New York sales tax", Rate: decimal.RequireFromString("4"), StateIDs: []string{"state-ny"}},
	{ID: "tax-wa-sales", Name: "Washington sales tax", Rate: decimal.RequireFromString("6.5"), StateIDs: []string{"state-wa"}},
	{ID: "tax-tx-sales", Name: "Texas sales tax", Rate: decimal.RequireFromString("6.25"), StateIDs: []string{"state-tx"}},
}

var couponSeeds = []coupon.Coupon{
	{
		ID: "coupon-welcome10", Code: "WELCOME10",
		Deduction: coupon.DeductionPercent, Value: decimal.RequireFromString("10"),
		Description: "10% off your first order",
	},
	{
		ID: "coupon-tenoff", Code: "TENOFF",
		Deduction: coupon.DeductionAmount, Value: decimal.RequireFromString("10"),
		Description: "$10 off your order",
	},
	{
		ID: "coupon-muglove", Code: "MUGLOVE",
		Deduction: coupon.DeductionPercent, Value: decimal.RequireFromString("20"),
		Description:  "20% off mugs",
		Restrictions: []string{"enamel-mug"},
	},
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, cfg *Config) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), cfg.ProductsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedStates(ctx, repository.NewStateRepository(pool, cfg.DefaultState)); err != nil {
		return errors.Wrap(err, "seed states")
	}

	if err := seedTaxRates(ctx, repository.NewTaxRateRepository(pool)); err != nil {
		return errors.Wrap(err, "seed tax rates")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		err := repo.Upsert(ctx, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			TrialPrice:  p.TrialPrice,
			Taxable:     p.Taxable,
			Weight:      p.Weight,
			Version:     p.Version,
			ShipRate:    p.ShipRate,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedStates(ctx context.Context, repo *repository.StateRepository) error {
	slog.Info("upserting states", slog.Int("count", len(stateSeeds)))

	for _, s := range stateSeeds {
		if err := repo.Upsert(ctx, s.id, s.name, s.abbreviation); err != nil {
			return errors.Wrapf(err, "upsert state %s", s.abbreviation)
		}
	}
	return nil
}

func seedTaxRates(ctx context.Context, repo *repository.TaxRateRepository) error {
	slog.Info("upserting tax rates", slog.Int("count", len(taxRateSeeds)))

	for _, rate := range taxRateSeeds {
		if err := repo.Upsert(ctx, rate); err != nil {
			return errors.Wrapf(err, "upsert tax rate %s", rate.ID)
		}
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository) error {
	slog.Info("upserting coupons", slog.Int("count", len(couponSeeds)))

	for _, c := range couponSeeds {
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
	}
	return nil
}
