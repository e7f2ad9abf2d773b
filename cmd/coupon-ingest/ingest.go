package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	insertBatch   = 1000
)

// codeRule describes the discount of a well-known code.
type codeRule struct {
	discountType coupon.DiscountType
	value        int64
	minItems     int
	description  string
}

var codeRules = map[string]codeRule{
	"BIRTHDAY": {discountType: coupon.DiscountFreeLowest, description: "Birthday: free lowest item"},
	"BUYGETON": {discountType: coupon.DiscountFreeLowest, minItems: 2, description: "Lowest item free (buy 2+)"},
	"FIFTYOFF": {discountType: coupon.DiscountPercentage, value: 50, description: "50% off"},
	"SIXTYOFF": {discountType: coupon.DiscountPercentage, value: 60, description: "60% off"},
	"GNULINUX": {discountType: coupon.DiscountPercentage, value: 15, description: "Open source discount: 15% off"},
	"OVER9000": {discountType: coupon.DiscountFixedCart, value: 9, description: "$9 off your order"},
	"HAPPYHRS": {discountType: coupon.DiscountPercentage, value: 18, description: "Happy Hours: 18% off"},
}

var defaultRule = codeRule{
	discountType: coupon.DiscountPercentage,
	value:        10,
	description:  "Partner promo code: 10% off",
}

type ingester struct {
	lg       *zap.Logger
	minFeeds int
	// capacity overrides bloomCapacity.
	capacity uint
}

// validCodes returns the codes present in at least minFeeds files, sorted.
//
// Pass 1 builds one bloom filter per file. Pass 2 re-reads every file and
// marks a code with the file's bit when enough filters claim it. A file only
// sets its own bit, so the merged mask counts real occurrences.
func (in *ingester) validCodes(ctx context.Context, files []string) ([]string, error) {
	in.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := in.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	in.lg.Info("Pass 2: finding candidate codes")
	candidates := make([]map[string]uint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			c, err := in.findCandidates(gctx, i, f, filters)
			if err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, c := range candidates {
		for code, mask := range c {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= in.minFeeds {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

func (in *ingester) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	capacity := in.capacity
	if capacity == 0 {
		capacity = bloomCapacity
	}
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if !validLength(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					in.lg.Info("Pass 1 progress", zap.Int("file", i+1), zap.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			in.lg.Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func (in *ingester) findCandidates(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	candidates := make(map[string]uint)
	fileBit := uint(1) << uint(idx)
	var count uint64

	err := streamGzFile(ctx, path, func(code string) {
		if !validLength(code) {
			return
		}
		count++
		if count%progressEvery == 0 {
			in.lg.Info("Pass 2 progress", zap.Int("file", idx+1), zap.Uint64("codes", count))
		}

		// The code is in this file; count the other feeds that may have it.
		seen := 1
		for j, f := range filters {
			if j != idx && f.TestString(code) {
				seen++
			}
		}
		if seen >= in.minFeeds {
			candidates[code] |= fileBit
		}
	})
	if err != nil {
		return nil, err
	}

	in.lg.Info("Pass 2 complete",
		zap.Int("file", idx+1),
		zap.Uint64("total_codes", count),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func validLength(code string) bool {
	return len(code) >= minCodeLen && len(code) <= maxCodeLen
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// newCoupon builds the quantity-mode coupon stored for code.
func newCoupon(code string, usageLimit int) coupon.Coupon {
	rule, ok := codeRules[code]
	if !ok {
		rule = defaultRule
	}
	c := coupon.Coupon{
		Code:            code,
		DiscountType:    rule.discountType,
		Value:           decimal.NewFromInt(rule.value),
		MinItems:        rule.minItems,
		Description:     rule.description,
		UsageLimit:      usageLimit,
		CountByQuantity: true,
	}
	c.Apply(c.Settings())
	return c
}

type couponInserter interface {
	InsertNew(ctx context.Context, coupons []coupon.Coupon) (int64, error)
}

// writeCoupons inserts codes in batches without touching existing coupons.
func writeCoupons(ctx context.Context, lg *zap.Logger, repo couponInserter, codes []string, usageLimit int) error {
	lg.Info("Writing coupons to database", zap.Int("count", len(codes)))

	var inserted int64
	for start := 0; start < len(codes); start += insertBatch {
		end := min(start+insertBatch, len(codes))
		batch := make([]coupon.Coupon, 0, end-start)
		for _, code := range codes[start:end] {
			batch = append(batch, newCoupon(code, usageLimit))
		}

		n, err := repo.InsertNew(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "insert coupons")
		}
		inserted += n
		lg.Info("Write progress", zap.Int("written", end), zap.Int("total", len(codes)))
	}

	lg.Info("Coupons inserted",
		zap.Int64("inserted", inserted),
		zap.Int64("existing", int64(len(codes))-inserted),
	)
	return nil
}
