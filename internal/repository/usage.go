package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/usage"
)

var (
	_ usage.Store = (*UsageStore)(nil)
	_ usage.Tx    = (*usageTx)(nil)
)

// UsageStore runs usage reconciliations in PostgreSQL transactions. Rows
// read through the transaction are locked with SELECT ... FOR UPDATE.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore returns a UsageStore that uses the given pool.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

// WithTx runs fn in a read-committed transaction, committing when fn
// returns nil.
func (s *UsageStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx usage.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &usageTx{tx: tx})
	})
}

type usageTx struct {
	tx pgx.Tx
}

func (t *usageTx) LockOrder(ctx context.Context, id string) (*order.Order, error) {
	return queryOrder(ctx, t.tx, lockOrderSQL, id)
}

func (t *usageTx) LockCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	return queryCoupon(ctx, t.tx, lockCouponSQL, coupon.NormalizeCode(code))
}

func (t *usageTx) SetUsageCount(ctx context.Context, code string, count int) error {
	if _, err := t.tx.Exec(ctx, setCouponUsageSQL, coupon.NormalizeCode(code), count); err != nil {
		return fmt.Errorf("setting usage count of %q: %w", code, err)
	}
	return nil
}

func (t *usageTx) RecordAdjustment(ctx context.Context, a coupon.Adjustment) error {
	_, err := t.tx.Exec(ctx, insertAdjustmentSQL,
		a.Code, a.OrderID, a.Previous, a.Current, a.DiscountedUnits, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording adjustment of %q: %w", a.Code, err)
	}
	return nil
}

func (t *usageTx) MarkUsageAdjusted(ctx context.Context, orderID string) error {
	tag, err := t.tx.Exec(ctx, markUsageAdjustedSQL, orderID)
	if err != nil {
		return fmt.Errorf("marking order %q adjusted: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}
