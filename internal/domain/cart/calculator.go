package cart

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
)

// Filter may rewrite the discount proposed by a coupon for one line. It is
// called once per line per coupon, in allocation order, and receives the
// ledger of the running pass.
type Filter func(l *coupon.Ledger, c *coupon.Coupon, item coupon.Item, proposed decimal.Decimal) decimal.Decimal

// AllocationOrder decides which lines are offered a limited budget first.
type AllocationOrder string

const (
	// OrderPriceDesc offers the budget to the highest unit price first.
	// Lines with equal prices keep cart order.
	OrderPriceDesc AllocationOrder = "price_desc"
	// OrderCart offers the budget in cart order.
	OrderCart AllocationOrder = "cart"
)

// ParseAllocationOrder validates an allocation order name.
func ParseAllocationOrder(s string) (AllocationOrder, error) {
	switch o := AllocationOrder(s); o {
	case OrderPriceDesc, OrderCart:
		return o, nil
	default:
		return "", errors.Errorf("unknown allocation order %q", s)
	}
}

// Calculator prices carts. Filters are registered once at startup with Use;
// Quote is then safe for concurrent use.
type Calculator struct {
	order   AllocationOrder
	filters []Filter
}

// NewCalculator creates a Calculator with no filters.
func NewCalculator(order AllocationOrder) *Calculator {
	return &Calculator{order: order}
}

// Use registers a discount filter.
func (c *Calculator) Use(f Filter) {
	c.filters = append(c.filters, f)
}

// Quote runs one calculation pass over lines for the given coupons.
func (c *Calculator) Quote(coupons []*coupon.Coupon, lines []Line) (*Quote, error) {
	items := make([]coupon.Item, len(lines))
	q := &Quote{
		Lines:    make([]QuotedLine, len(lines)),
		Coupons:  make([]CouponUsage, 0, len(coupons)),
		Subtotal: decimal.Zero,
	}
	for i, l := range lines {
		items[i] = l.item()
		subtotal := items[i].Subtotal()
		q.Lines[i] = QuotedLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  subtotal,
			Discount:  decimal.Zero,
		}
		q.Subtotal = q.Subtotal.Add(subtotal)
	}

	ledger := coupon.NewLedger()
	order := c.allocationOrder(lines)

	for _, cp := range coupons {
		proposed, err := coupon.ProposeLineDiscounts(cp, items)
		if err != nil {
			return nil, errors.Wrapf(err, "coupon %s", cp.Code)
		}

		usage := CouponUsage{Code: cp.Code, Discount: decimal.Zero}
		for _, i := range order {
			amount := proposed[i]
			for _, f := range c.filters {
				amount = f(ledger, cp, items[i], amount)
			}
			if !amount.IsPositive() {
				continue
			}
			q.Lines[i].Discount = q.Lines[i].Discount.Add(amount)
			usage.Discount = usage.Discount.Add(amount)
			if !cp.QuantityBudget() {
				usage.AllocatedUnits += items[i].Quantity
			}
		}

		if cp.QuantityBudget() {
			usage.AllocatedUnits = ledger.Allocated(cp.Code)
			remaining := max(0, cp.Remaining()-usage.AllocatedUnits)
			usage.RemainingUnits = &remaining
		}
		q.Coupons = append(q.Coupons, usage)
	}

	q.Discounts = decimal.Zero
	for i := range q.Lines {
		l := &q.Lines[i]
		l.Discount = decimal.Min(l.Discount, l.Subtotal).Round(2)
		l.Total = l.Subtotal.Sub(l.Discount).Round(2)
		q.Discounts = q.Discounts.Add(l.Discount)
	}
	q.Subtotal = q.Subtotal.Round(2)
	q.Discounts = q.Discounts.Round(2)
	q.Total = q.Subtotal.Sub(q.Discounts)
	if q.Total.IsNegative() {
		q.Total = decimal.Zero
	}

	return q, nil
}

// allocationOrder returns line indexes in the order they draw on budgets.
func (c *Calculator) allocationOrder(lines []Line) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	if c.order == OrderPriceDesc {
		slices.SortStableFunc(order, func(a, b int) int {
			return lines[b].UnitPrice.Cmp(lines[a].UnitPrice)
		})
	}
	return order
}
