package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/db"
	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/product"
	"github.com/xenking/kart-coupons/internal/domain/usage"
	"github.com/xenking/kart-coupons/internal/repository"
	"github.com/xenking/kart-coupons/internal/repository/memory"
	"github.com/xenking/kart-coupons/internal/repository/sqlite"
	"github.com/xenking/kart-coupons/internal/seed"
	"github.com/xenking/kart-coupons/pkg/health"
)

// backend is one storage implementation behind the domain interfaces.
type backend struct {
	products product.Repository
	coupons  coupon.Repository
	orders   order.Repository
	usage    usage.Store
	apikeys  auth.Repository
	seeder   seed.Writer
	pinger   health.Pinger
	close    func()
}

func openBackend(ctx context.Context, cfg *Config) (*backend, error) {
	lg := zctx.From(ctx)

	switch cfg.Storage {
	case StoragePostgres:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := repository.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		repos := repository.New(pool)
		return &backend{
			products: repos.Products,
			coupons:  repos.Coupons,
			orders:   repos.Orders,
			usage:    repos.Usage,
			apikeys:  repos.APIKeys,
			seeder:   repos,
			pinger:   pool,
			close:    pool.Close,
		}, nil

	case StorageSQLite:
		store, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		lg.Info("Using sqlite storage", zap.String("path", cfg.SQLitePath))
		return &backend{
			products: store,
			coupons:  store,
			orders:   store,
			usage:    store,
			apikeys:  store,
			seeder:   store,
			pinger:   store,
			close: func() {
				if err := store.Close(); err != nil {
					lg.Warn("Close sqlite", zap.Error(err))
				}
			},
		}, nil

	case StorageMemory:
		store := memory.New()
		lg.Warn("Using in-memory storage, data is lost on restart")
		return &backend{
			products: store,
			coupons:  store,
			orders:   store,
			usage:    store,
			apikeys:  store,
			seeder:   store,
			pinger:   store,
			close:    func() {},
		}, nil

	default:
		return nil, errors.Errorf("unknown storage %q", cfg.Storage)
	}
}

// seedData returns the demo data written on startup.
func seedData(cfg *Config) (seed.Data, error) {
	products, err := seed.ParseProducts(db.Products)
	if err != nil {
		return seed.Data{}, errors.Wrap(err, "parse products")
	}
	d := seed.Data{
		Products: products,
		Coupons:  seed.Coupons(),
	}
	if cfg.Seed.APIKey != "" {
		key := seed.APIKey([]byte(cfg.APIKeyPepper), cfg.Seed.APIKey)
		d.APIKey = &key
	}
	return d, nil
}
