package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proloser/shopcart/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT c.id, c.code, c.deduction_type, c.value, c.description,
			COALESCE(array_agg(r.product_id) FILTER (WHERE r.product_id IS NOT NULL), '{}')
		FROM coupons c
		LEFT JOIN coupon_restrictions r ON r.coupon_id = c.id
		WHERE UPPER(c.code) = UPPER($1) AND c.active = TRUE
		GROUP BY c.id`

	upsertCouponSQL = `INSERT INTO coupons (id, code, deduction_type, value, description, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (code) DO UPDATE SET
			deduction_type = EXCLUDED.deduction_type,
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			active = TRUE`

	deleteCouponRestrictionsSQL = `DELETE FROM coupon_restrictions WHERE coupon_id = $1`

	insertCouponRestrictionSQL = `INSERT INTO coupon_restrictions (coupon_id, product_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive),
// including its product restrictions. Returns coupon.ErrNotFound when no
// matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Upsert inserts or replaces a coupon and rewrites its restriction list in
// one transaction.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning coupon upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.Deduction), c.Value, c.Description,
	); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	if _, err := tx.Exec(ctx, deleteCouponRestrictionsSQL, c.ID); err != nil {
		return fmt.Errorf("clearing restrictions for coupon %q: %w", c.Code, err)
	}
	for _, productID := range c.Restrictions {
		if _, err := tx.Exec(ctx, insertCouponRestrictionSQL, c.ID, productID); err != nil {
			return fmt.Errorf("restricting coupon %q to product %q: %w", c.Code, productID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing coupon upsert: %w", err)
	}
	return nil
}

// UpsertBatch writes many coupons in a single pipelined batch. Restrictions
// are not supported on the batch path; bulk-ingested codes are store-wide.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL, c.ID, c.Code, string(c.Deduction), c.Value, c.Description)
	}

	res := r.pool.SendBatch(ctx, batch)
	defer func() { _ = res.Close() }()

	for _, c := range coupons {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("batch upserting coupon %q: %w", c.Code, err)
		}
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c         coupon.Coupon
		deduction string
	)
	err := row.Scan(&c.ID, &c.Code, &deduction, &c.Value, &c.Description, &c.Restrictions)
	c.Deduction = coupon.DeductionType(deduction)
	return c, err
}
