// Package usage reconciles coupon usage counters after an order is paid.
//
// The order platform counts one use per order. For coupons that count usage
// by quantity, the Reconciler replaces that single use with the number of
// units the order actually discounted.
package usage

import (
	"context"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
)

// Tx is the storage view inside one reconciliation transaction. Rows
// returned by the Lock methods stay locked until the transaction ends.
type Tx interface {
	// LockOrder returns order.ErrNotFound for unknown orders.
	LockOrder(ctx context.Context, id string) (*order.Order, error)
	// LockCoupon returns coupon.ErrNotFound for unknown codes.
	LockCoupon(ctx context.Context, code string) (*coupon.Coupon, error)
	SetUsageCount(ctx context.Context, code string, count int) error
	RecordAdjustment(ctx context.Context, a coupon.Adjustment) error
	MarkUsageAdjusted(ctx context.Context, orderID string) error
}

// Store runs fn in a transaction. If fn returns an error nothing it did is
// kept.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// DiscountedUnits sums the quantity of every line sold below its subtotal.
func DiscountedUnits(items []order.Item) int {
	units := 0
	for _, item := range items {
		if item.Discounted() {
			units += item.Quantity
		}
	}
	return units
}

// Correct returns the usage count after replacing the single per-order use
// already included in current with units. The result never drops below zero.
func Correct(current, units int) int {
	return max(0, current-1+units)
}
