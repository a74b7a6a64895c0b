package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proloser/shopcart/internal/domain/cart"
)

const cartStateActive = "active"

const (
	findActiveCartSQL = `SELECT data FROM carts WHERE user_id = $1 AND state = $2`

	upsertCartSQL = `INSERT INTO carts (id, user_id, state, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, state) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`

	deleteActiveCartSQL = `DELETE FROM carts WHERE user_id = $1 AND state = $2`
)

var _ cart.Store = (*CartRepository)(nil)

// CartRepository implements cart.Store backed by PostgreSQL. The serialized
// order is stored opaque; one active row per user, last write wins.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// FindActiveByUser returns the serialized active cart for a user. Returns
// cart.ErrNoActiveCart when the user has none.
func (r *CartRepository) FindActiveByUser(ctx context.Context, userID string) ([]byte, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, findActiveCartSQL, userID, cartStateActive).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNoActiveCart
		}
		return nil, fmt.Errorf("finding active cart for user %q: %w", userID, err)
	}
	return data, nil
}

// Upsert writes the serialized active cart for a user, replacing any
// previous one.
func (r *CartRepository) Upsert(ctx context.Context, userID string, data []byte) error {
	_, err := r.pool.Exec(ctx, upsertCartSQL, uuid.NewString(), userID, cartStateActive, data)
	if err != nil {
		return fmt.Errorf("upserting cart for user %q: %w", userID, err)
	}
	return nil
}

// DeleteActive removes the user's active cart row, if any.
func (r *CartRepository) DeleteActive(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, deleteActiveCartSQL, userID, cartStateActive)
	if err != nil {
		return fmt.Errorf("deleting active cart for user %q: %w", userID, err)
	}
	return nil
}
