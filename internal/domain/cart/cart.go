// Package cart prices a cart against a set of coupons. Every call to
// Calculator.Quote is one calculation pass with its own allocation ledger.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
)

// Line is a cart line ready for pricing.
type Line struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

func (l Line) item() coupon.Item {
	return coupon.Item{ProductID: l.ProductID, Price: l.UnitPrice, Quantity: l.Quantity}
}

// QuotedLine is a priced cart line.
type QuotedLine struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
}

// Discounted reports whether the line received any discount.
func (l QuotedLine) Discounted() bool {
	return l.Subtotal.GreaterThan(l.Total)
}

// CouponUsage summarizes what a coupon consumed in one pass.
type CouponUsage struct {
	Code string
	// AllocatedUnits is the number of units the coupon discounted.
	AllocatedUnits int
	// RemainingUnits is the unit budget left after this pass, nil for
	// coupons without a quantity budget.
	RemainingUnits *int
	Discount       decimal.Decimal
}

// Quote is the result of one calculation pass. Lines keep cart order.
type Quote struct {
	Lines     []QuotedLine
	Coupons   []CouponUsage
	Subtotal  decimal.Decimal
	Discounts decimal.Decimal
	Total     decimal.Decimal
}

// GrantedUnits returns the units discounted by quantity-budget coupons.
func (q *Quote) GrantedUnits() int {
	units := 0
	for _, c := range q.Coupons {
		if c.RemainingUnits != nil {
			units += c.AllocatedUnits
		}
	}
	return units
}
