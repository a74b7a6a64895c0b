package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proloser/shopcart/internal/domain/tax"
)

const (
	listTaxRatesSQL = `SELECT t.id, t.name, t.rate,
			COALESCE(array_agg(s.state_id) FILTER (WHERE s.state_id IS NOT NULL), '{}')
		FROM tax_rates t
		LEFT JOIN tax_rate_states s ON s.tax_rate_id = t.id
		GROUP BY t.id
		ORDER BY t.id`

	upsertTaxRateSQL = `INSERT INTO tax_rates (id, name, rate)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, rate = EXCLUDED.rate`

	insertTaxRateStateSQL = `INSERT INTO tax_rate_states (tax_rate_id, state_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`
)

var _ tax.Repository = (*TaxRateRepository)(nil)

// TaxRateRepository implements tax.Repository backed by PostgreSQL.
type TaxRateRepository struct {
	pool *pgxpool.Pool
}

// NewTaxRateRepository returns a TaxRateRepository that uses the given pool.
func NewTaxRateRepository(pool *pgxpool.Pool) *TaxRateRepository {
	return &TaxRateRepository{pool: pool}
}

// ListRates returns all configured tax rates with their applicable states.
func (r *TaxRateRepository) ListRates(ctx context.Context) ([]tax.Rate, error) {
	rows, err := r.pool.Query(ctx, listTaxRatesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing tax rates: %w", err)
	}
	return pgx.CollectRows(rows, scanTaxRate)
}

// Upsert inserts or replaces a tax rate and links it to the given states.
func (r *TaxRateRepository) Upsert(ctx context.Context, rate tax.Rate) error {
	if _, err := r.pool.Exec(ctx, upsertTaxRateSQL, rate.ID, rate.Name, rate.Rate); err != nil {
		return fmt.Errorf("upserting tax rate %q: %w", rate.ID, err)
	}
	for _, stateID := range rate.StateIDs {
		if _, err := r.pool.Exec(ctx, insertTaxRateStateSQL, rate.ID, stateID); err != nil {
			return fmt.Errorf("linking tax rate %q to state %q: %w", rate.ID, stateID, err)
		}
	}
	return nil
}

func scanTaxRate(row pgx.CollectableRow) (tax.Rate, error) {
	var rate tax.Rate
	err := row.Scan(&rate.ID, &rate.Name, &rate.Rate, &rate.StateIDs)
	return rate, err
}
