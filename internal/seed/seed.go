// Package seed loads the demo catalog, coupons and API key into a store.
package seed

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/product"
)

// Writer is implemented by every storage backend.
type Writer interface {
	UpsertProduct(ctx context.Context, p product.Product) error
	UpsertCoupon(ctx context.Context, c coupon.Coupon) error
	UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Image    struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

// ParseProducts decodes a JSON product catalog.
func ParseProducts(data []byte) ([]product.Product, error) {
	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, len(raw))
	for i, p := range raw {
		out[i] = product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Category: p.Category,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}
	}
	return out, nil
}

// Coupons returns the demo coupons.
func Coupons() []coupon.Coupon {
	return []coupon.Coupon{
		{
			Code:            "SAVE8",
			DiscountType:    coupon.DiscountPercentage,
			Value:           decimal.NewFromInt(50),
			Description:     "Half price on up to 8 units in total",
			UsageLimit:      8,
			CountByQuantity: true,
		},
		{
			Code:            "SAVE3",
			DiscountType:    coupon.DiscountFixedProduct,
			Value:           decimal.NewFromInt(2),
			Description:     "$2 off each unit, 3 units in total",
			UsageLimit:      3,
			CountByQuantity: true,
		},
		{
			Code:         "HAPPYHOURS",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(18),
			Description:  "Happy Hours: 18% off entire order",
		},
		{
			Code:         "BUYGETONE",
			DiscountType: coupon.DiscountFreeLowest,
			MinItems:     2,
			Description:  "Buy one get one: lowest priced item free",
		},
	}
}

// APIKey returns the default key with every scope, stored by its hash.
func APIKey(pepper []byte, key string) auth.APIKeyInfo {
	return auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(pepper, key),
		Name:    "Default key",
		Scopes:  []string{auth.ScopeCreateOrder, auth.ScopeManageCoupons},
	}
}

// Data is everything Apply writes.
type Data struct {
	Products []product.Product
	Coupons  []coupon.Coupon
	// APIKey is skipped when nil.
	APIKey *auth.APIKeyInfo
}

// Apply upserts d into w.
func Apply(ctx context.Context, w Writer, d Data) error {
	lg := zctx.From(ctx)

	for _, p := range d.Products {
		if err := w.UpsertProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}
	lg.Info("Seeded products", zap.Int("count", len(d.Products)))

	for _, c := range d.Coupons {
		if err := w.UpsertCoupon(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		lg.Info("Seeded coupon",
			zap.String("code", c.Code),
			zap.Int("usage_limit", c.UsageLimit),
			zap.Bool("count_by_quantity", c.CountByQuantity),
		)
	}

	if d.APIKey != nil {
		if err := w.UpsertAPIKey(ctx, *d.APIKey); err != nil {
			return errors.Wrap(err, "upsert api key")
		}
		lg.Info("Seeded API key", zap.String("id", d.APIKey.ID), zap.Strings("scopes", d.APIKey.Scopes))
	}

	return nil
}
