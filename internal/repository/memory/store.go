// Package memory provides an in-memory implementation of every repository,
// for tests and single-process development runs. All state lives behind one
// mutex; WithTx holds it for the whole transaction and rolls back from a
// snapshot on error.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/product"
	"github.com/xenking/kart-coupons/internal/domain/usage"
)

var (
	_ product.Repository = (*Store)(nil)
	_ coupon.Repository  = (*Store)(nil)
	_ order.Repository   = (*Store)(nil)
	_ auth.Repository    = (*Store)(nil)
	_ usage.Store        = (*Store)(nil)
)

// Store keeps products, coupons, orders and API keys in maps.
type Store struct {
	mu          sync.Mutex
	products    map[string]product.Product
	coupons     map[string]coupon.Coupon
	orders      map[string]order.Order
	adjustments []coupon.Adjustment
	apikeys     map[string]auth.APIKeyInfo
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		products: make(map[string]product.Product),
		coupons:  make(map[string]coupon.Coupon),
		orders:   make(map[string]order.Order),
		apikeys:  make(map[string]auth.APIKeyInfo),
	}
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutCoupon inserts or replaces a coupon. Settings are normalized the same
// way the settings endpoint does.
func (s *Store) PutCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = coupon.NormalizeCode(c.Code)
	c.Apply(c.Settings())
	s.coupons[c.Code] = c
}

// PutAPIKey inserts or replaces an API key.
func (s *Store) PutAPIKey(info auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apikeys[info.KeyHash] = info
}

// UpsertProduct implements seed.Writer.
func (s *Store) UpsertProduct(_ context.Context, p product.Product) error {
	s.PutProduct(p)
	return nil
}

// UpsertCoupon implements seed.Writer. The usage counter of an existing
// coupon is kept.
func (s *Store) UpsertCoupon(_ context.Context, c coupon.Coupon) error {
	s.mu.Lock()
	if prev, ok := s.coupons[coupon.NormalizeCode(c.Code)]; ok {
		c.UsageCount = prev.UsageCount
	}
	s.mu.Unlock()
	s.PutCoupon(c)
	return nil
}

// UpsertAPIKey implements seed.Writer.
func (s *Store) UpsertAPIKey(_ context.Context, info auth.APIKeyInfo) error {
	s.PutAPIKey(info)
	return nil
}

// List returns all products ordered by ID.
func (s *Store) List(_ context.Context) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Sorted(maps.Keys(s.products))
	out := make([]product.Product, len(ids))
	for i, id := range ids {
		out[i] = s.products[id]
	}
	return out, nil
}

// GetByID returns a single product.
func (s *Store) GetByID(_ context.Context, id string) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the products matching any of ids.
func (s *Store) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []product.Product
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// FindByCode looks up a coupon by code, case-insensitively.
func (s *Store) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.couponLocked(code)
}

// UpdateSettings stores normalized settings for a coupon.
func (s *Store) UpdateSettings(_ context.Context, code string, settings coupon.Settings) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.couponLocked(code)
	if err != nil {
		return nil, err
	}
	c.Apply(settings)
	s.coupons[c.Code] = *c
	return c, nil
}

// ListAdjustments returns the usage corrections of a coupon, oldest first.
func (s *Store) ListAdjustments(_ context.Context, code string) ([]coupon.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code = coupon.NormalizeCode(code)
	var out []coupon.Adjustment
	for _, a := range s.adjustments {
		if a.Code == code {
			out = append(out, a)
		}
	}
	return out, nil
}

// Create stores a new order.
func (s *Store) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

// Get returns a stored order.
func (s *Store) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

// Transition applies a status change and records coupon usage when asked.
func (s *Store) Transition(_ context.Context, id string, next order.Status) (order.Status, *order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return "", nil, order.ErrNotFound
	}
	o = cloneOrder(o)
	from := o.Status

	record, err := o.Transition(next)
	if err != nil {
		return "", nil, err
	}
	if record {
		for _, code := range o.CouponCodes {
			if c, ok := s.coupons[code]; ok {
				c.UsageCount++
				s.coupons[code] = c
			}
		}
	}
	s.orders[id] = o

	out := cloneOrder(o)
	return from, &out, nil
}

// FindByHash looks up an API key by its hash.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.apikeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	info.Scopes = slices.Clone(info.Scopes)
	return &info, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// WithTx runs fn with exclusive access to the store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx usage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &txView{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) couponLocked(code string) (*coupon.Coupon, error) {
	c, ok := s.coupons[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

type snapshot struct {
	coupons     map[string]coupon.Coupon
	orders      map[string]order.Order
	adjustments []coupon.Adjustment
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		coupons:     maps.Clone(s.coupons),
		orders:      maps.Clone(s.orders),
		adjustments: slices.Clone(s.adjustments),
	}
}

func (s *Store) restore(snap snapshot) {
	s.coupons = snap.coupons
	s.orders = snap.orders
	s.adjustments = snap.adjustments
}

// txView implements usage.Tx on a Store whose mutex is already held.
type txView struct {
	s *Store
}

func (t *txView) LockOrder(_ context.Context, id string) (*order.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (t *txView) LockCoupon(_ context.Context, code string) (*coupon.Coupon, error) {
	return t.s.couponLocked(code)
}

func (t *txView) SetUsageCount(_ context.Context, code string, count int) error {
	c, err := t.s.couponLocked(code)
	if err != nil {
		return err
	}
	c.UsageCount = count
	t.s.coupons[c.Code] = *c
	return nil
}

func (t *txView) RecordAdjustment(_ context.Context, a coupon.Adjustment) error {
	t.s.adjustments = append(t.s.adjustments, a)
	return nil
}

func (t *txView) MarkUsageAdjusted(_ context.Context, orderID string) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.UsageAdjusted = true
	t.s.orders[orderID] = o
	return nil
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	o.CouponCodes = slices.Clone(o.CouponCodes)
	return o
}
