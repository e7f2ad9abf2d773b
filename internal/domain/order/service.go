package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/domain/cart"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/product"
)

// Pricer runs a calculation pass over a cart.
type Pricer interface {
	Quote(coupons []*coupon.Coupon, lines []cart.Line) (*cart.Quote, error)
}

// StatusListener is notified after an order's status changed. Listeners run
// synchronously after the change is stored; their errors are logged and do
// not undo the change.
type StatusListener func(ctx context.Context, o *Order, from Status) error

// LineRequest is a product and quantity requested by the shopper.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items       []LineRequest
	CouponCodes []string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
	Quote    *cart.Quote
}

// Service encapsulates order placement and lifecycle logic.
type Service struct {
	products  product.Repository
	coupons   coupon.Validator
	pricer    Pricer
	orders    Repository
	listeners []StatusListener
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	coupons coupon.Validator,
	pricer Pricer,
	orders Repository,
) *Service {
	return &Service{
		products: products,
		coupons:  coupons,
		pricer:   pricer,
		orders:   orders,
		now:      time.Now,
	}
}

// OnStatusChange registers a listener. Register listeners before serving.
func (s *Service) OnStatusChange(l StatusListener) {
	s.listeners = append(s.listeners, l)
}

// Price resolves products and coupons for a cart and runs one calculation
// pass without persisting anything.
func (s *Service) Price(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}

	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	products := make([]product.Product, 0, len(req.Items))
	lines := make([]cart.Line, 0, len(req.Items))
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
		lines = append(lines, cart.Line{
			ProductID: p.ID,
			UnitPrice: p.Price,
			Quantity:  item.Quantity,
		})
	}

	coupons, err := s.coupons.Resolve(ctx, req.CouponCodes)
	if err != nil {
		return nil, fmt.Errorf("validate coupon: %w", err)
	}

	quote, err := s.pricer.Quote(coupons, lines)
	if err != nil {
		return nil, fmt.Errorf("price cart: %w", err)
	}

	codes := make([]string, len(coupons))
	for i, c := range coupons {
		codes[i] = c.Code
	}

	items := make([]Item, len(quote.Lines))
	for i, l := range quote.Lines {
		items[i] = Item{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal,
			Total:     l.Total,
		}
	}

	now := s.now().UTC()
	return &PlaceOrderResult{
		Order: &Order{
			Status:      StatusPending,
			Items:       items,
			CouponCodes: codes,
			Total:       quote.Total,
			Discounts:   quote.Discounts,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Products: products,
		Quote:    quote,
	}, nil
}

// PlaceOrder prices the cart and persists it as a pending order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	result, err := s.Price(ctx, req)
	if err != nil {
		return nil, err
	}

	result.Order.ID = uuid.New().String()
	if err := s.orders.Create(ctx, result.Order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return result, nil
}

// Get returns a stored order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// UpdateStatus moves an order to next and notifies listeners when the
// status actually changed.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status) (*Order, error) {
	from, o, err := s.orders.Transition(ctx, id, next)
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	if from == next {
		return o, nil
	}

	lg := zctx.From(ctx)
	for _, l := range s.listeners {
		if err := l(ctx, o, from); err != nil {
			lg.Error("Order status listener failed",
				zap.String("order_id", o.ID),
				zap.String("from", string(from)),
				zap.String("to", string(next)),
				zap.Error(err),
			)
		}
	}

	// Listeners may have updated the order.
	if len(s.listeners) > 0 {
		fresh, err := s.orders.Get(ctx, id)
		if err != nil {
			lg.Debug("Reload order after status listeners",
				zap.String("order_id", id),
				zap.Error(err),
			)
		} else {
			o = fresh
		}
	}
	return o, nil
}
