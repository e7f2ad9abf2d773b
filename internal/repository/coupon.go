package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
)

const (
	couponColumns = `code, discount_type, value, min_items, description,
		valid_from, valid_until, usage_limit, usage_count,
		count_by_quantity, individual_use_only, max_discount`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE code = $1 AND active = TRUE`

	lockCouponSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE code = $1 FOR UPDATE`

	updateCouponSettingsSQL = `UPDATE coupons
		SET count_by_quantity = $2, individual_use_only = $3
		WHERE code = $1 AND active = TRUE
		RETURNING ` + couponColumns

	setCouponUsageSQL = `UPDATE coupons SET usage_count = $2 WHERE code = $1`

	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1 WHERE code = ANY($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_items, description,
		valid_from, valid_until, usage_limit, count_by_quantity, individual_use_only, max_discount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_items = EXCLUDED.min_items,
			description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			usage_limit = EXCLUDED.usage_limit,
			count_by_quantity = EXCLUDED.count_by_quantity,
			individual_use_only = EXCLUDED.individual_use_only,
			max_discount = EXCLUDED.max_discount,
			active = TRUE`

	insertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_items, description,
		valid_from, valid_until, usage_limit, count_by_quantity, individual_use_only, max_discount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO NOTHING`

	listAdjustmentsSQL = `SELECT code, order_id, previous_count, current_count, discounted_units, created_at
		FROM coupon_usage_adjustments WHERE code = $1 ORDER BY id`

	insertAdjustmentSQL = `INSERT INTO coupon_usage_adjustments
		(code, order_id, previous_count, current_count, discounted_units, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
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

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return queryCoupon(ctx, r.pool, getCouponByCodeSQL, coupon.NormalizeCode(code))
}

// UpdateSettings stores normalized settings and returns the updated coupon.
func (r *CouponRepository) UpdateSettings(ctx context.Context, code string, s coupon.Settings) (*coupon.Coupon, error) {
	s = s.Normalize()
	return queryCoupon(ctx, r.pool, updateCouponSettingsSQL,
		coupon.NormalizeCode(code), s.CountByQuantity, s.IndividualUseOnly,
	)
}

// ListAdjustments returns the usage corrections of a coupon, oldest first.
func (r *CouponRepository) ListAdjustments(ctx context.Context, code string) ([]coupon.Adjustment, error) {
	rows, err := r.pool.Query(ctx, listAdjustmentsSQL, coupon.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("listing adjustments of %q: %w", code, err)
	}
	return pgx.CollectRows(rows, scanAdjustment)
}

// Upsert inserts a coupon or overwrites the definition of an existing one.
// The usage counter of an existing coupon is kept.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	c = prepareCoupon(c)
	if _, err := r.pool.Exec(ctx, upsertCouponSQL, couponArgs(c)...); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// InsertNew inserts coupons in one batch, leaving existing codes untouched.
// It returns how many rows were inserted.
func (r *CouponRepository) InsertNew(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	if len(coupons) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(insertCouponSQL, couponArgs(prepareCoupon(c))...)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	var inserted int64
	for _, c := range coupons {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("inserting coupon %q: %w", c.Code, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func prepareCoupon(c coupon.Coupon) coupon.Coupon {
	c.Code = coupon.NormalizeCode(c.Code)
	c.Apply(c.Settings())
	return c
}

func couponArgs(c coupon.Coupon) []any {
	return []any{
		c.Code, string(c.DiscountType), c.Value, c.MinItems, c.Description,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.CountByQuantity, c.IndividualUseOnly, c.MaxDiscount,
	}
}

func queryCoupon(ctx context.Context, q querier, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying coupon: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("querying coupon: %w", err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.Code, &discountType, &c.Value, &c.MinItems, &c.Description,
		&c.ValidFrom, &c.ValidUntil, &c.UsageLimit, &c.UsageCount,
		&c.CountByQuantity, &c.IndividualUseOnly, &c.MaxDiscount,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}

func scanAdjustment(row pgx.CollectableRow) (coupon.Adjustment, error) {
	var a coupon.Adjustment
	err := row.Scan(&a.Code, &a.OrderID, &a.Previous, &a.Current, &a.DiscountedUnits, &a.CreatedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, err
}
