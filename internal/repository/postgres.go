// Package repository implements the domain repositories on PostgreSQL.
package repository

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-coupons/db"
	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/product"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the repositories need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var (
	_ querier = (*pgxpool.Pool)(nil)
	_ querier = (pgx.Tx)(nil)
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Repositories bundles every PostgreSQL repository over one pool.
type Repositories struct {
	Products *ProductRepository
	Coupons  *CouponRepository
	Orders   *OrderRepository
	Usage    *UsageStore
	APIKeys  *APIKeyRepository
}

// New returns all repositories backed by pool.
func New(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Products: NewProductRepository(pool),
		Coupons:  NewCouponRepository(pool),
		Orders:   NewOrderRepository(pool),
		Usage:    NewUsageStore(pool),
		APIKeys:  NewAPIKeyRepository(pool),
	}
}

// UpsertProduct implements seed.Writer.
func (r *Repositories) UpsertProduct(ctx context.Context, p product.Product) error {
	return r.Products.Upsert(ctx, p)
}

// UpsertCoupon implements seed.Writer.
func (r *Repositories) UpsertCoupon(ctx context.Context, c coupon.Coupon) error {
	return r.Coupons.Upsert(ctx, c)
}

// UpsertAPIKey implements seed.Writer.
func (r *Repositories) UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error {
	return r.APIKeys.Upsert(ctx, info)
}
