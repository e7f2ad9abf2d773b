// Command seed-db migrates the database and loads the demo catalog, the demo
// coupons and a default API key.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/db"
	"github.com/xenking/kart-coupons/internal/repository"
	"github.com/xenking/kart-coupons/internal/repository/sqlite"
	"github.com/xenking/kart-coupons/internal/seed"
)

type options struct {
	storage      string
	databaseURL  string
	sqlitePath   string
	productsFile string
	apiKey       string
	apiKeyPepper string
}

func main() {
	var opts options

	flag.StringVar(&opts.storage, "storage", "postgres", "storage backend: postgres or sqlite")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.sqlitePath, "sqlite-path", "kart.db", "SQLite database file")
	flag.StringVar(&opts.productsFile, "products-file", "", "path to products JSON file (defaults to the embedded catalog)")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or KART_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	data, err := loadData(opts)
	if err != nil {
		return err
	}

	switch opts.storage {
	case "postgres":
		if opts.databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		zctx.From(ctx).Info("Connecting to database")

		pool, err := repository.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		return seed.Apply(ctx, repository.New(pool), data)

	case "sqlite":
		store, err := sqlite.New(ctx, opts.sqlitePath)
		if err != nil {
			return errors.Wrap(err, "open sqlite")
		}
		defer func() { _ = store.Close() }()
		return seed.Apply(ctx, store, data)

	default:
		return errors.Errorf("unknown storage %q", opts.storage)
	}
}

func loadData(opts options) (seed.Data, error) {
	raw := db.Products
	if opts.productsFile != "" {
		b, err := os.ReadFile(opts.productsFile)
		if err != nil {
			return seed.Data{}, errors.Wrap(err, "read products file")
		}
		raw = b
	}

	products, err := seed.ParseProducts(raw)
	if err != nil {
		return seed.Data{}, errors.Wrap(err, "parse products")
	}

	key := seed.APIKey([]byte(opts.apiKeyPepper), opts.apiKey)
	return seed.Data{
		Products: products,
		Coupons:  seed.Coupons(),
		APIKey:   &key,
	}, nil
}
