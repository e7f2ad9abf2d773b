package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ProposeLineDiscounts returns, for every item, the discount c would grant
// to that line absent any usage cap. The result is index-aligned with items.
// It returns ErrInvalidCoupon when the cart does not satisfy the coupon's
// minimum item count.
func ProposeLineDiscounts(c *Coupon, items []Item) ([]decimal.Decimal, error) {
	if c.MinItems > 0 && totalQuantity(items) < c.MinItems {
		return nil, ErrInvalidCoupon
	}

	var lines []decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		lines = proposePercentage(c, items)
	case DiscountFixedProduct:
		lines = proposeFixedProduct(c, items)
	case DiscountFixedCart:
		lines = proposeFixedCart(c, items)
	case DiscountFreeLowest:
		lines = proposeFreeLowest(items)
	default:
		return nil, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	if c.MaxDiscount.IsPositive() {
		if total := sum(lines); total.GreaterThan(c.MaxDiscount) {
			lines = distribute(c.MaxDiscount, lines)
		}
	}
	return lines, nil
}

func proposePercentage(c *Coupon, items []Item) []decimal.Decimal {
	lines := make([]decimal.Decimal, len(items))
	for i, item := range items {
		amount := item.Subtotal().Mul(c.Value).Div(hundred)
		lines[i] = floorAtZero(amount).Round(2)
	}
	return lines
}

func proposeFixedProduct(c *Coupon, items []Item) []decimal.Decimal {
	lines := make([]decimal.Decimal, len(items))
	for i, item := range items {
		perUnit := decimal.Min(c.Value, item.Price)
		amount := perUnit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		lines[i] = floorAtZero(amount).Round(2)
	}
	return lines
}

func proposeFixedCart(c *Coupon, items []Item) []decimal.Decimal {
	subtotals := make([]decimal.Decimal, len(items))
	for i, item := range items {
		subtotals[i] = item.Subtotal()
	}
	total := floorAtZero(decimal.Min(c.Value, sum(subtotals))).Round(2)
	return distribute(total, subtotals)
}

func proposeFreeLowest(items []Item) []decimal.Decimal {
	lines := make([]decimal.Decimal, len(items))
	for i := range lines {
		lines[i] = decimal.Zero
	}
	if idx := findLowestUnitPrice(items); idx >= 0 {
		lines[idx] = floorAtZero(items[idx].Price).Round(2)
	}
	return lines
}

// distribute splits total across lines in proportion to weights. Shares are
// rounded to cents and the last weighted line absorbs the remainder, so the
// shares always add up to total exactly.
func distribute(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	for i := range shares {
		shares[i] = decimal.Zero
	}

	weight := sum(weights)
	if !weight.IsPositive() {
		return shares
	}

	last := -1
	for i, w := range weights {
		if w.IsPositive() {
			last = i
		}
	}

	left := total
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		if i == last {
			shares[i] = left
			break
		}
		share := total.Mul(w).Div(weight).Round(2)
		shares[i] = share
		left = left.Sub(share)
	}
	return shares
}

func sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// totalQuantity returns the sum of quantities across all items.
func totalQuantity(items []Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// findLowestUnitPrice returns the index of the item with the lowest unit
// price, or -1 for an empty cart. Ties resolve to the first such item.
func findLowestUnitPrice(items []Item) int {
	if len(items) == 0 {
		return -1
	}
	lowest := 0
	for i, item := range items[1:] {
		if item.Price.LessThan(items[lowest].Price) {
			lowest = i + 1
		}
	}
	return lowest
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
