package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-coupons/db"
	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/repository/memory"
)

func TestParseProducts(t *testing.T) {
	products, err := ParseProducts(db.Products)
	require.NoError(t, err)
	require.NotEmpty(t, products)

	assert.Equal(t, "1", products[0].ID)
	assert.Equal(t, "6.5", products[0].Price.String())
	assert.NotEmpty(t, products[0].Image.Thumbnail)
}

func TestParseProducts_Invalid(t *testing.T) {
	_, err := ParseProducts([]byte(`{"id":`))
	require.Error(t, err)
}

func TestCoupons_QuantityModeIsIndividualUse(t *testing.T) {
	for _, c := range Coupons() {
		if c.CountByQuantity {
			assert.True(t, c.Settings().Normalize().IndividualUseOnly, c.Code)
			assert.Positive(t, c.UsageLimit, c.Code)
		}
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	products, err := ParseProducts(db.Products)
	require.NoError(t, err)
	key := APIKey([]byte("pepper"), "secret")

	require.NoError(t, Apply(ctx, store, Data{
		Products: products,
		Coupons:  Coupons(),
		APIKey:   &key,
	}))

	listed, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, len(products))

	save3, err := store.FindByCode(ctx, "save3")
	require.NoError(t, err)
	assert.True(t, save3.CountByQuantity)
	assert.True(t, save3.IndividualUseOnly)
	assert.Equal(t, 3, save3.UsageLimit)

	info, err := store.FindByHash(ctx, auth.HashKey([]byte("pepper"), "secret"))
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeManageCoupons))
	assert.True(t, info.HasScope(auth.ScopeCreateOrder))
}

func TestApply_KeepsUsageCount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, Apply(ctx, store, Data{Coupons: Coupons()}))

	c, err := store.FindByCode(ctx, "SAVE8")
	require.NoError(t, err)
	c.UsageCount = 5
	store.PutCoupon(*c)

	require.NoError(t, Apply(ctx, store, Data{Coupons: Coupons()}))

	c, err = store.FindByCode(ctx, "SAVE8")
	require.NoError(t, err)
	assert.Equal(t, 5, c.UsageCount)
}
