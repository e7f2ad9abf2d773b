package coupon

import "github.com/shopspring/decimal"

// Ledger tracks how many units each coupon has been granted during a single
// calculation pass. The caller running the pass owns it; a fresh ledger (or
// one that was Reset) must be used for every pass.
//
// A Ledger is not safe for concurrent use.
type Ledger struct {
	allocated map[string]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{allocated: make(map[string]int)}
}

// Allocated returns the units granted to code so far in this pass.
func (l *Ledger) Allocated(code string) int {
	return l.allocated[code]
}

// Reset forgets every allocation.
func (l *Ledger) Reset() {
	clear(l.allocated)
}

// Grant is the outcome of capping one line against a coupon's budget.
type Grant struct {
	// Units is the number of units that receive the discount.
	Units int
	// Discount is the amount actually applied to the line.
	Discount decimal.Decimal
}

// Capped reports whether fewer units than requested were granted.
func (g Grant) Capped(quantity int) bool {
	return g.Units < quantity
}

// Allocate caps the discount proposed for a line of quantity units against
// the remaining quantity budget of c and records the granted units.
//
// Coupons without a quantity budget pass the proposal through untouched and
// leave the ledger alone, as do negative proposals. Zero proposals, and
// partial grants that round to zero, grant nothing and record nothing.
func (l *Ledger) Allocate(c *Coupon, quantity int, proposed decimal.Decimal) Grant {
	if !c.QuantityBudget() || proposed.IsNegative() {
		return Grant{Units: quantity, Discount: proposed}
	}
	// Units are only charged to lines that actually get a discount.
	if quantity <= 0 || !proposed.IsPositive() {
		return Grant{Discount: decimal.Zero}
	}

	remaining := c.Remaining()
	if remaining <= 0 {
		return Grant{Discount: decimal.Zero}
	}

	capacity := remaining - l.allocated[c.Code]
	if capacity <= 0 {
		return Grant{Discount: decimal.Zero}
	}

	granted := min(quantity, capacity)
	discount := proposed
	if granted < quantity {
		discount = scale(proposed, granted, quantity)
		if !discount.IsPositive() {
			return Grant{Discount: decimal.Zero}
		}
	}

	l.allocated[c.Code] += granted
	return Grant{Units: granted, Discount: discount}
}

// AllowedDiscount returns the part of proposed that c may still grant to
// item within the pass tracked by l.
func AllowedDiscount(l *Ledger, c *Coupon, item Item, proposed decimal.Decimal) decimal.Decimal {
	return l.Allocate(c, item.Quantity, proposed).Discount
}

// scale returns amount * part / whole rounded to cents.
func scale(amount decimal.Decimal, part, whole int) decimal.Decimal {
	return amount.
		Mul(decimal.NewFromInt(int64(part))).
		Div(decimal.NewFromInt(int64(whole))).
		Round(2)
}
