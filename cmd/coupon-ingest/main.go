// Command coupon-ingest imports partner coupon feeds. Codes listed by enough
// feeds become quantity-mode coupons; existing coupons are left untouched.
package main

import (
	"context"
	"flag"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/repository"
)

type options struct {
	dataDir     string
	pattern     string
	databaseURL string
	minFeeds    int
	usageLimit  int
}

func main() {
	var opts options

	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing the gzip feeds")
	flag.StringVar(&opts.pattern, "feeds", "couponbase*.gz", "glob matching feed files inside data-dir")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.minFeeds, "min-feeds", 2, "minimum number of feeds a code must appear in")
	flag.IntVar(&opts.usageLimit, "usage-limit", 10, "unit budget of every imported coupon")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, opts.pattern))
	if err != nil {
		return errors.Wrap(err, "match feeds")
	}
	slices.Sort(files)
	if opts.minFeeds < 1 || opts.minFeeds > len(files) {
		return errors.Errorf("min-feeds %d out of range: %d feeds found", opts.minFeeds, len(files))
	}
	if len(files) > bits.UintSize {
		return errors.Errorf("too many feeds: %d, at most %d", len(files), bits.UintSize)
	}
	if opts.usageLimit <= 0 {
		return errors.New("usage-limit must be positive")
	}

	ing := &ingester{lg: lg, minFeeds: opts.minFeeds}
	codes, err := ing.validCodes(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Valid codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, lg, repository.NewCouponRepository(pool), codes, opts.usageLimit)
}
