package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupons map[string]*Coupon
	err     error
	lookups []string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookups = append(m.lookups, code)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) UpdateSettings(_ context.Context, _ string, _ Settings) (*Coupon, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCouponRepo) ListAdjustments(_ context.Context, _ string) ([]Adjustment, error) {
	return nil, nil
}

func newCouponRepo(coupons ...*Coupon) *mockCouponRepo {
	byCode := make(map[string]*Coupon, len(coupons))
	for _, c := range coupons {
		byCode[c.Code] = c
	}
	return &mockCouponRepo{coupons: byCode}
}

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name    string
		coupon  *Coupon
		code    string
		wantErr error
	}{
		{
			name:   "valid code",
			coupon: &Coupon{Code: "SAVE10", DiscountType: DiscountPercentage, Value: d("10")},
			code:   "SAVE10",
		},
		{
			name:    "unknown code",
			code:    "BOGUS",
			wantErr: ErrInvalidCoupon,
		},
		{
			name:    "expired coupon",
			coupon:  &Coupon{Code: "OLD", ValidUntil: &pastTime},
			code:    "OLD",
			wantErr: ErrCouponExpired,
		},
		{
			name:    "coupon not yet valid",
			coupon:  &Coupon{Code: "FUTURE", ValidFrom: &futureTime},
			code:    "FUTURE",
			wantErr: ErrCouponExpired,
		},
		{
			name:   "coupon within valid window",
			coupon: &Coupon{Code: "WINDOW", ValidFrom: &pastTime, ValidUntil: &futureTime},
			code:   "WINDOW",
		},
		{
			name:    "per-order usage limit reached",
			coupon:  &Coupon{Code: "LIMITED", UsageLimit: 100, UsageCount: 100},
			code:    "LIMITED",
			wantErr: ErrCouponUsageLimitReached,
		},
		{
			name:   "per-order usage under limit",
			coupon: &Coupon{Code: "HASROOM", UsageLimit: 100, UsageCount: 50},
			code:   "HASROOM",
		},
		{
			name:   "unlimited uses",
			coupon: &Coupon{Code: "UNLIMITED", UsageCount: 9999},
			code:   "UNLIMITED",
		},
		{
			name: "quantity budget spent is not an error",
			coupon: &Coupon{
				Code:            "SAVE8",
				UsageLimit:      8,
				UsageCount:      8,
				CountByQuantity: true,
			},
			code: "SAVE8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newCouponRepo()
			if tt.coupon != nil {
				repo = newCouponRepo(tt.coupon)
			}
			v := NewRepoValidator(repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), tt.code)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestRepoValidator_ValidateRepoError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("db error")}

	_, err := NewRepoValidator(repo).Validate(context.Background(), "ANY")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestRepoValidator_Resolve(t *testing.T) {
	save8 := &Coupon{Code: "SAVE8", UsageLimit: 8, CountByQuantity: true, IndividualUseOnly: true}
	happy := &Coupon{Code: "HAPPYHOURS", DiscountType: DiscountPercentage, Value: d("18")}
	flat := &Coupon{Code: "FLAT5", DiscountType: DiscountFixedCart, Value: d("5")}

	t.Run("normalizes and dedupes codes", func(t *testing.T) {
		repo := newCouponRepo(save8)

		got, err := NewRepoValidator(repo).Resolve(context.Background(), []string{" save8", "SAVE8 ", "", "Save8"})

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "SAVE8", got[0].Code)
		assert.Equal(t, []string{"SAVE8"}, repo.lookups)
	})

	t.Run("individual use coupon alone", func(t *testing.T) {
		got, err := NewRepoValidator(newCouponRepo(save8)).Resolve(context.Background(), []string{"SAVE8"})

		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("individual use coupon combined", func(t *testing.T) {
		_, err := NewRepoValidator(newCouponRepo(save8, happy)).
			Resolve(context.Background(), []string{"HAPPYHOURS", "SAVE8"})

		require.ErrorIs(t, err, ErrIndividualUseOnly)
	})

	t.Run("stackable coupons combine", func(t *testing.T) {
		got, err := NewRepoValidator(newCouponRepo(happy, flat)).
			Resolve(context.Background(), []string{"HAPPYHOURS", "FLAT5"})

		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("no codes", func(t *testing.T) {
		got, err := NewRepoValidator(newCouponRepo()).Resolve(context.Background(), nil)

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unknown code fails the whole set", func(t *testing.T) {
		_, err := NewRepoValidator(newCouponRepo(happy)).
			Resolve(context.Background(), []string{"HAPPYHOURS", "NOPE"})

		require.ErrorIs(t, err, ErrInvalidCoupon)
	})
}
