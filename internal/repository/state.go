package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proloser/shopcart/internal/domain/tax"
)

const (
	getStateByAbbreviationSQL = `SELECT id FROM states WHERE UPPER(abbreviation) = UPPER($1)`

	upsertStateSQL = `INSERT INTO states (id, name, abbreviation)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, abbreviation = EXCLUDED.abbreviation`
)

var _ tax.Resolver = (*StateRepository)(nil)

// StateRepository resolves tax jurisdictions from the states table. The
// configured default abbreviation is the store's home state, used when an
// order has no shipping address yet.
type StateRepository struct {
	pool                *pgxpool.Pool
	defaultAbbreviation string
}

// NewStateRepository returns a StateRepository with the given default
// jurisdiction abbreviation (e.g. "CA").
func NewStateRepository(pool *pgxpool.Pool, defaultAbbreviation string) *StateRepository {
	return &StateRepository{pool: pool, defaultAbbreviation: defaultAbbreviation}
}

// DefaultState returns the state ID for the configured default
// abbreviation. Returns tax.ErrUnresolved when none is configured or the
// abbreviation is unknown.
func (r *StateRepository) DefaultState(ctx context.Context) (string, error) {
	if r.defaultAbbreviation == "" {
		return "", tax.ErrUnresolved
	}

	var id string
	err := r.pool.QueryRow(ctx, getStateByAbbreviationSQL, r.defaultAbbreviation).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", tax.ErrUnresolved
		}
		return "", fmt.Errorf("resolving default state %q: %w", r.defaultAbbreviation, err)
	}
	return id, nil
}

// Upsert inserts or replaces one state row.
func (r *StateRepository) Upsert(ctx context.Context, id, name, abbreviation string) error {
	_, err := r.pool.Exec(ctx, upsertStateSQL, id, name, abbreviation)
	if err != nil {
		return fmt.Errorf("upserting state %q: %w", abbreviation, err)
	}
	return nil
}
