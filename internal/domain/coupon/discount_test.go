package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func amounts(vs ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = d(v)
	}
	return out
}

func TestProposeLineDiscounts(t *testing.T) {
	tests := []struct {
		name    string
		coupon  *Coupon
		items   []Item
		want    []decimal.Decimal
		wantErr error
	}{
		{
			name:   "percentage 18% per line",
			coupon: &Coupon{DiscountType: DiscountPercentage, Value: d("18")},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 2},
				{ProductID: "p2", Price: d("10"), Quantity: 1},
			},
			want: amounts("18", "1.8"),
		},
		{
			name:   "percentage 100% equals subtotal",
			coupon: &Coupon{DiscountType: DiscountPercentage, Value: d("100")},
			items: []Item{
				{ProductID: "p1", Price: d("25"), Quantity: 4},
			},
			want: amounts("100"),
		},
		{
			name:   "fixed product per unit",
			coupon: &Coupon{DiscountType: DiscountFixedProduct, Value: d("5")},
			items: []Item{
				{ProductID: "p1", Price: d("20"), Quantity: 10},
				{ProductID: "p2", Price: d("3"), Quantity: 2},
			},
			want: amounts("50", "6"),
		},
		{
			name:   "fixed cart split by subtotal",
			coupon: &Coupon{DiscountType: DiscountFixedCart, Value: d("9")},
			items: []Item{
				{ProductID: "p1", Price: d("30"), Quantity: 2},
				{ProductID: "p2", Price: d("40"), Quantity: 1},
			},
			want: amounts("5.4", "3.6"),
		},
		{
			name:   "fixed cart remainder goes to last line",
			coupon: &Coupon{DiscountType: DiscountFixedCart, Value: d("10")},
			items: []Item{
				{ProductID: "p1", Price: d("10"), Quantity: 1},
				{ProductID: "p2", Price: d("10"), Quantity: 1},
				{ProductID: "p3", Price: d("10"), Quantity: 1},
			},
			want: amounts("3.33", "3.33", "3.34"),
		},
		{
			name:   "fixed cart capped at subtotal",
			coupon: &Coupon{DiscountType: DiscountFixedCart, Value: d("200")},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 2},
			},
			want: amounts("100"),
		},
		{
			name:   "free lowest picks the cheapest line",
			coupon: &Coupon{DiscountType: DiscountFreeLowest},
			items: []Item{
				{ProductID: "p1", Price: d("15"), Quantity: 1},
				{ProductID: "p2", Price: d("5"), Quantity: 3},
				{ProductID: "p3", Price: d("10"), Quantity: 1},
			},
			want: amounts("0", "5", "0"),
		},
		{
			name: "max discount caps the coupon total",
			coupon: &Coupon{
				DiscountType: DiscountPercentage,
				Value:        d("50"),
				MaxDiscount:  d("20"),
			},
			items: []Item{
				{ProductID: "p1", Price: d("30"), Quantity: 1},
				{ProductID: "p2", Price: d("50"), Quantity: 1},
			},
			want: amounts("7.5", "12.5"),
		},
		{
			name: "min items not met",
			coupon: &Coupon{
				DiscountType: DiscountPercentage,
				Value:        d("10"),
				MinItems:     2,
			},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 1},
			},
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "min items met across lines",
			coupon: &Coupon{
				DiscountType: DiscountPercentage,
				Value:        d("10"),
				MinItems:     2,
			},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 1},
				{ProductID: "p2", Price: d("20"), Quantity: 1},
			},
			want: amounts("5", "2"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProposeLineDiscounts(tt.coupon, tt.items)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.True(t, tt.want[i].Equal(got[i]),
					"line %d: expected %s, got %s", i, tt.want[i], got[i])
			}
		})
	}
}

func TestProposeLineDiscounts_UnsupportedType(t *testing.T) {
	_, err := ProposeLineDiscounts(&Coupon{DiscountType: "bogus"}, []Item{
		{ProductID: "p1", Price: d("1"), Quantity: 1},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported discount type")
}

func TestDistribute_SumsToTotal(t *testing.T) {
	weights := amounts("7", "13", "0", "29", "1")

	shares := distribute(d("17.77"), weights)

	assert.True(t, d("17.77").Equal(sum(shares)), "got %s", sum(shares))
	assert.True(t, shares[2].IsZero())
}
