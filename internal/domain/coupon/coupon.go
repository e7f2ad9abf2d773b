package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off every line subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedCart takes a fixed amount off the cart, spread over lines.
	DiscountFixedCart DiscountType = "fixed_cart"
	// DiscountFixedProduct takes a fixed amount off every unit.
	DiscountFixedProduct DiscountType = "fixed_product"
	// DiscountFreeLowest removes the cost of one unit of the cheapest line.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or
	// the cart does not satisfy the coupon's minimum item requirement.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a per-order coupon has
	// exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrIndividualUseOnly is returned when an individual-use coupon is
	// combined with another coupon.
	ErrIndividualUseOnly = errors.New("coupon cannot be combined with other coupons")
	// ErrNotFound is returned by repositories for unknown coupon codes.
	ErrNotFound = errors.New("coupon not found")
)

// Coupon is a discount code together with its usage budget.
//
// UsageLimit of zero means unlimited. With CountByQuantity set the limit and
// the counter are measured in discounted product units instead of orders.
type Coupon struct {
	Code              string
	DiscountType      DiscountType
	Value             decimal.Decimal
	MinItems          int
	Description       string
	ValidFrom         *time.Time
	ValidUntil        *time.Time
	UsageLimit        int
	UsageCount        int
	CountByQuantity   bool
	IndividualUseOnly bool
	MaxDiscount       decimal.Decimal
}

// HasUsageLimit reports whether the coupon carries a usage limit.
func (c *Coupon) HasUsageLimit() bool {
	return c.UsageLimit > 0
}

// QuantityBudget reports whether the coupon's usage is counted in units and
// bounded by a limit.
func (c *Coupon) QuantityBudget() bool {
	return c.CountByQuantity && c.HasUsageLimit()
}

// Remaining returns how many uses are left before the limit is hit. The
// result may be negative when the counter overshot the limit.
func (c *Coupon) Remaining() int {
	return c.UsageLimit - c.UsageCount
}

// Settings returns the operator-controlled switches of the coupon.
func (c *Coupon) Settings() Settings {
	return Settings{
		CountByQuantity:   c.CountByQuantity,
		IndividualUseOnly: c.IndividualUseOnly,
	}
}

// Item represents a cart line for discount calculation purposes.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Subtotal returns price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Adjustment records one correction of a coupon's usage counter made while
// reconciling an order.
type Adjustment struct {
	Code            string
	OrderID         string
	Previous        int
	Current         int
	DiscountedUnits int
	CreatedAt       time.Time
}

// Repository provides lookup and configuration of coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	UpdateSettings(ctx context.Context, code string, s Settings) (*Coupon, error)
	ListAdjustments(ctx context.Context, code string) ([]Adjustment, error)
}
