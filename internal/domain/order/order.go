package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusCancelled},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", &UnknownStatusError{Status: s}
	}
}

// Paid reports whether payment for the order has been confirmed.
func (s Status) Paid() bool {
	return s == StatusProcessing || s == StatusCompleted
}

// CanTransition reports whether an order in status s may move to next.
// Staying in the same status is always allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Order is a placed customer order.
type Order struct {
	ID          string
	Status      Status
	Items       []Item
	CouponCodes []string
	Total       decimal.Decimal
	Discounts   decimal.Decimal
	// UsageRecorded is set once the per-order usage increment of every
	// applied coupon has been stored.
	UsageRecorded bool
	// UsageAdjusted is set once coupon usage has been reconciled from
	// orders to discounted units.
	UsageAdjusted bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Item is a line of a placed order.
type Item struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
}

// Discounted reports whether the line was sold below its subtotal.
func (i Item) Discounted() bool {
	return i.Subtotal.GreaterThan(i.Total)
}

// Transition moves the order to status next. It reports whether the caller
// must now record one use of every applied coupon, which happens exactly once
// per order, on its first paid status.
func (o *Order) Transition(next Status) (recordUsage bool, err error) {
	if !o.Status.CanTransition(next) {
		return false, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: next}
	}
	o.Status = next
	if next.Paid() && !o.UsageRecorded {
		o.UsageRecorded = true
		return len(o.CouponCodes) > 0, nil
	}
	return false, nil
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Transition locks the order, applies Order.Transition and, when it
	// asks for it, increments the usage count of every applied coupon by
	// one, all in one transaction. It returns the previous status and the
	// updated order.
	Transition(ctx context.Context, id string, next Status) (Status, *Order, error)
}
