package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/xenking/kart-coupons/internal/domain/order"
)

const (
	orderColumns = `id, status, items, coupon_codes, total, discounts,
		usage_recorded, usage_adjusted, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, status, items, coupon_codes, total, discounts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, usage_recorded = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	markUsageAdjustedSQL = `UPDATE orders SET usage_adjusted = TRUE, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, string(o.Status), itemsJSON, lo.Uniq(o.CouponCodes), o.Total, o.Discounts, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// Get returns a stored order or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return queryOrder(ctx, r.pool, getOrderSQL, id)
}

// Transition locks the order row, applies the status change and records one
// use of every applied coupon on the first paid status.
func (r *OrderRepository) Transition(ctx context.Context, id string, next order.Status) (order.Status, *order.Order, error) {
	var (
		from order.Status
		out  *order.Order
	)
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		o, err := queryOrder(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}
		from = o.Status

		record, err := o.Transition(next)
		if err != nil {
			return err
		}
		if record {
			codes := slices.Clone(o.CouponCodes)
			slices.Sort(codes)
			if _, err := tx.Exec(ctx, incrementCouponUsageSQL, codes); err != nil {
				return fmt.Errorf("recording coupon usage: %w", err)
			}
		}

		if err := tx.QueryRow(ctx, updateOrderStatusSQL, o.ID, string(o.Status), o.UsageRecorded).Scan(&o.UpdatedAt); err != nil {
			return fmt.Errorf("updating order status: %w", err)
		}
		o.UpdatedAt = o.UpdatedAt.UTC()
		out = o
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("transitioning order %q: %w", id, err)
	}
	return from, out, nil
}

func queryOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("querying order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("querying order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		status    string
		itemsJSON []byte
	)
	if err := row.Scan(
		&o.ID, &status, &itemsJSON, &o.CouponCodes, &o.Total, &o.Discounts,
		&o.UsageRecorded, &o.UsageAdjusted, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.Status = order.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}
