package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/product"
	"github.com/xenking/kart-coupons/internal/domain/usage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "kart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Products(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.UpsertProduct(ctx, product.Product{ID: "1", Name: "Waffle", Price: decimal.RequireFromString("6.50")}))
	require.NoError(t, s.UpsertProduct(ctx, product.Product{ID: "2", Name: "Tiramisu", Price: decimal.RequireFromString("5.50")}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, decimal.RequireFromString("6.5").Equal(list[0].Price))

	got, err := s.GetByIDs(ctx, []string{"2", "2", "x"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = s.GetByID(ctx, "x")
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestStore_CouponRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	until := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertCoupon(ctx, coupon.Coupon{
		Code:            "save8",
		DiscountType:    coupon.DiscountPercentage,
		Value:           decimal.NewFromInt(50),
		UsageLimit:      8,
		CountByQuantity: true,
		ValidUntil:      &until,
		MaxDiscount:     decimal.NewFromInt(20),
	}))

	c, err := s.FindByCode(ctx, "Save8")
	require.NoError(t, err)
	assert.Equal(t, "SAVE8", c.Code)
	assert.True(t, c.IndividualUseOnly)
	assert.Nil(t, c.ValidFrom)
	require.NotNil(t, c.ValidUntil)
	assert.True(t, until.Equal(*c.ValidUntil))
	assert.True(t, decimal.NewFromInt(20).Equal(c.MaxDiscount))

	updated, err := s.UpdateSettings(ctx, "save8", coupon.Settings{})
	require.NoError(t, err)
	assert.False(t, updated.CountByQuantity)
	assert.False(t, updated.IndividualUseOnly)

	_, err = s.FindByCode(ctx, "missing")
	assert.ErrorIs(t, err, coupon.ErrNotFound)
}

func createPaidOrder(t *testing.T, s *Store, id string, codes ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &order.Order{
		ID:     id,
		Status: order.StatusPending,
		Items: []order.Item{
			{ProductID: "1", Quantity: 2, Subtotal: decimal.NewFromInt(13), Total: decimal.RequireFromString("6.50")},
		},
		CouponCodes: codes,
		Total:       decimal.RequireFromString("6.50"),
		Discounts:   decimal.RequireFromString("6.50"),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
	_, _, err := s.Transition(ctx, id, order.StatusProcessing)
	require.NoError(t, err)
}

func TestStore_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.UpsertCoupon(ctx, coupon.Coupon{Code: "SAVE8", DiscountType: coupon.DiscountPercentage, UsageLimit: 8, CountByQuantity: true}))
	createPaidOrder(t, s, "o1", "SAVE8")

	o, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, o.Status)
	assert.True(t, o.UsageRecorded)
	assert.Equal(t, []string{"SAVE8"}, o.CouponCodes)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].Discounted())

	c, err := s.FindByCode(ctx, "SAVE8")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsageCount)

	_, _, err = s.Transition(ctx, "o1", order.StatusPending)
	var transitionErr *order.InvalidTransitionError
	assert.ErrorAs(t, err, &transitionErr)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestStore_Reconcile(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.UpsertCoupon(ctx, coupon.Coupon{Code: "SAVE8", DiscountType: coupon.DiscountPercentage, UsageLimit: 8, CountByQuantity: true}))
	createPaidOrder(t, s, "o1", "SAVE8")

	r, err := usage.NewReconciler(s)
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeAdjusted, res.Outcome)

	res, err = r.Reconcile(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeAlreadyAdjusted, res.Outcome)

	c, err := s.FindByCode(ctx, "SAVE8")
	require.NoError(t, err)
	assert.Equal(t, 2, c.UsageCount)

	trail, err := s.ListAdjustments(ctx, "SAVE8")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, 1, trail[0].Previous)
	assert.Equal(t, 2, trail[0].Current)
}

func TestStore_ConcurrentReconcile(t *testing.T) {
	const orders = 10

	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.UpsertCoupon(ctx, coupon.Coupon{Code: "BULK", DiscountType: coupon.DiscountPercentage, UsageLimit: 100, CountByQuantity: true}))
	ids := make([]string, orders)
	for i := range ids {
		ids[i] = "o" + string(rune('a'+i))
		createPaidOrder(t, s, ids[i], "BULK")
	}

	r, err := usage.NewReconciler(s)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Reconcile(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := s.FindByCode(ctx, "BULK")
	require.NoError(t, err)
	assert.Equal(t, orders*2, c.UsageCount)
}

func TestStore_APIKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.UpsertAPIKey(ctx, auth.APIKeyInfo{ID: "default", KeyHash: "abc", Name: "d", Scopes: []string{auth.ScopeCreateOrder}}))

	info, err := s.FindByHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{auth.ScopeCreateOrder}, info.Scopes)

	_, err = s.FindByHash(ctx, "zzz")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}
