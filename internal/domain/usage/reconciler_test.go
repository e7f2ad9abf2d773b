package usage_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/usage"
	"github.com/xenking/kart-coupons/internal/repository/memory"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func item(qty int, subtotal, total string) order.Item {
	return order.Item{
		ProductID: "p",
		Quantity:  qty,
		Subtotal:  decimal.RequireFromString(subtotal),
		Total:     decimal.RequireFromString(total),
	}
}

func quantityCoupon(code string, limit, count int) coupon.Coupon {
	return coupon.Coupon{
		Code:            code,
		DiscountType:    coupon.DiscountPercentage,
		Value:           decimal.NewFromInt(50),
		UsageLimit:      limit,
		UsageCount:      count,
		CountByQuantity: true,
	}
}

// paidOrder stores a pending order and moves it to processing, which records
// one use of every applied coupon the way the order service does.
func paidOrder(t *testing.T, s *memory.Store, id string, codes []string, items ...order.Item) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &order.Order{
		ID:          id,
		Status:      order.StatusPending,
		Items:       items,
		CouponCodes: codes,
	}))
	_, _, err := s.Transition(ctx, id, order.StatusProcessing)
	require.NoError(t, err)
}

func newReconciler(t *testing.T, s usage.Store) *usage.Reconciler {
	t.Helper()
	r, err := usage.NewReconciler(s, usage.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return r
}

func usageCount(t *testing.T, s *memory.Store, code string) int {
	t.Helper()
	c, err := s.FindByCode(context.Background(), code)
	require.NoError(t, err)
	return c.UsageCount
}

func TestDiscountedUnits(t *testing.T) {
	units := usage.DiscountedUnits([]order.Item{
		item(2, "20", "10"),
		item(5, "50", "50"),
		item(3, "30", "29.99"),
		item(4, "0", "0"),
	})
	assert.Equal(t, 5, units)
}

func TestCorrect(t *testing.T) {
	tests := []struct {
		current, units, want int
	}{
		{current: 1, units: 2, want: 2},
		{current: 1, units: 1, want: 1},
		{current: 5, units: 10, want: 14},
		{current: 0, units: 0, want: 0},
		{current: 0, units: 1, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, usage.Correct(tt.current, tt.units), "current=%d units=%d", tt.current, tt.units)
	}
}

func TestReconcile_ReplacesOrderUseWithUnits(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE3", 3, 0))
	paidOrder(t, s, "o1", []string{"SAVE3"},
		item(2, "20", "10"),
		item(5, "50", "50"),
	)
	require.Equal(t, 1, usageCount(t, s, "SAVE3"))

	res, err := newReconciler(t, s).Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeAdjusted, res.Outcome)
	assert.Equal(t, 2, res.DiscountedUnits)
	assert.Equal(t, 2, usageCount(t, s, "SAVE3"))
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, coupon.Adjustment{
		Code:            "SAVE3",
		OrderID:         "o1",
		Previous:        1,
		Current:         2,
		DiscountedUnits: 2,
		CreatedAt:       fixedNow,
	}, res.Adjustments[0])

	o, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, o.UsageAdjusted)

	trail, err := s.ListAdjustments(context.Background(), "SAVE3")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestReconcile_Idempotent(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE3", 3, 0))
	paidOrder(t, s, "o1", []string{"SAVE3"}, item(2, "20", "10"))
	r := newReconciler(t, s)

	_, err := r.Reconcile(context.Background(), "o1")
	require.NoError(t, err)

	// A second paid status does not record usage again.
	_, _, err = s.Transition(context.Background(), "o1", order.StatusCompleted)
	require.NoError(t, err)

	res, err := r.Reconcile(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeAlreadyAdjusted, res.Outcome)
	assert.Equal(t, 2, usageCount(t, s, "SAVE3"))

	trail, err := s.ListAdjustments(context.Background(), "SAVE3")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestReconcile_PerOrderCouponUntouched(t *testing.T) {
	s := memory.New()
	s.PutCoupon(coupon.Coupon{Code: "HAPPYHOURS", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(18), UsageLimit: 100})
	paidOrder(t, s, "o1", []string{"HAPPYHOURS"}, item(4, "40", "32.80"))

	res, err := newReconciler(t, s).Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeAdjusted, res.Outcome)
	assert.Empty(t, res.Adjustments)
	assert.Equal(t, "counted per order", res.Skipped["HAPPYHOURS"])
	assert.Equal(t, 1, usageCount(t, s, "HAPPYHOURS"))
}

func TestReconcile_NoDiscountedUnits(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE8", 8, 8))
	paidOrder(t, s, "o1", []string{"SAVE8"}, item(3, "30", "30"))
	require.Equal(t, 9, usageCount(t, s, "SAVE8"))

	res, err := newReconciler(t, s).Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Empty(t, res.Adjustments)
	assert.Equal(t, "no discounted units", res.Skipped["SAVE8"])
	assert.Equal(t, 9, usageCount(t, s, "SAVE8"))

	o, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, o.UsageAdjusted)
}

func TestReconcile_ClampsAtZero(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE3", 3, 0))
	paidOrder(t, s, "o1", []string{"SAVE3"}, item(1, "10", "5"))

	// An operator reset the counter between payment and reconciliation.
	err := s.WithTx(context.Background(), func(ctx context.Context, tx usage.Tx) error {
		return tx.SetUsageCount(ctx, "SAVE3", 0)
	})
	require.NoError(t, err)

	_, err = newReconciler(t, s).Reconcile(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, 0, usageCount(t, s, "SAVE3"))
}

func TestReconcile_MissingCouponSkipsOnlyThatCode(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE3", 3, 0))
	paidOrder(t, s, "o1", []string{"GONE", "SAVE3"}, item(2, "20", "10"))

	res, err := newReconciler(t, s).Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, "coupon not found", res.Skipped["GONE"])
	assert.Equal(t, 2, usageCount(t, s, "SAVE3"))
}

func TestReconcile_MissingOrder(t *testing.T) {
	res, err := newReconciler(t, memory.New()).Reconcile(context.Background(), "nope")

	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeOrderMissing, res.Outcome)
}

func TestReconcile_UnpaidOrder(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE3", 3, 0))
	require.NoError(t, s.Create(context.Background(), &order.Order{
		ID:          "o1",
		Status:      order.StatusPending,
		Items:       []order.Item{item(2, "20", "10")},
		CouponCodes: []string{"SAVE3"},
	}))

	res, err := newReconciler(t, s).Reconcile(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeNotPaid, res.Outcome)
	assert.Equal(t, 0, usageCount(t, s, "SAVE3"))

	o, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, o.UsageAdjusted)
}

func TestReconcile_ConcurrentOrdersOnOneCoupon(t *testing.T) {
	const orders = 40

	s := memory.New()
	s.PutCoupon(quantityCoupon("BULK", 1000, 0))
	ids := make([]string, orders)
	for i := range ids {
		ids[i] = "o" + strconv.Itoa(i)
		paidOrder(t, s, ids[i], []string{"BULK"}, item(3, "30", "15"))
	}
	require.Equal(t, orders, usageCount(t, s, "BULK"))

	r := newReconciler(t, s)
	var wg sync.WaitGroup
	for _, id := range ids {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Reconcile(context.Background(), id)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, orders*3, usageCount(t, s, "BULK"))
}

type failingTx struct {
	usage.Tx
}

func (failingTx) RecordAdjustment(context.Context, coupon.Adjustment) error {
	return errors.New("disk full")
}

type failingStore struct {
	*memory.Store
}

func (f failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx usage.Tx) error) error {
	return f.Store.WithTx(ctx, func(ctx context.Context, tx usage.Tx) error {
		return fn(ctx, failingTx{Tx: tx})
	})
}

func TestReconcile_FailureRollsBack(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE3", 3, 0))
	paidOrder(t, s, "o1", []string{"SAVE3"}, item(2, "20", "10"))

	_, err := newReconciler(t, failingStore{Store: s}).Reconcile(context.Background(), "o1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, usageCount(t, s, "SAVE3"))

	o, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, o.UsageAdjusted)
}

func TestCompletionHook(t *testing.T) {
	s := memory.New()
	s.PutCoupon(quantityCoupon("SAVE3", 3, 0))
	paidOrder(t, s, "o1", []string{"SAVE3"}, item(2, "20", "10"))
	hook := usage.CompletionHook(newReconciler(t, s))

	o, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)

	cancelled := *o
	cancelled.Status = order.StatusCancelled
	require.NoError(t, hook(context.Background(), &cancelled, order.StatusProcessing))
	assert.Equal(t, 1, usageCount(t, s, "SAVE3"))

	require.NoError(t, hook(context.Background(), o, order.StatusPending))
	assert.Equal(t, 2, usageCount(t, s, "SAVE3"))

	require.NoError(t, hook(context.Background(), o, order.StatusProcessing))
	assert.Equal(t, 2, usageCount(t, s, "SAVE3"))
}
