package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
)

// Validator resolves the coupon codes submitted with a cart.
type Validator interface {
	Resolve(ctx context.Context, codes []string) ([]*Coupon, error)
}

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// NormalizeCode returns the canonical form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve looks up every distinct code, checks each coupon on its own and
// then checks that individual-use coupons are not combined.
func (v *RepoValidator) Resolve(ctx context.Context, codes []string) ([]*Coupon, error) {
	codes = lo.Uniq(lo.FilterMap(codes, func(code string, _ int) (string, bool) {
		code = NormalizeCode(code)
		return code, code != ""
	}))

	coupons := make([]*Coupon, 0, len(codes))
	for _, code := range codes {
		c, err := v.Validate(ctx, code)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}

	if len(coupons) > 1 {
		for _, c := range coupons {
			if c.IndividualUseOnly {
				return nil, errors.Wrapf(ErrIndividualUseOnly, "coupon %s", c.Code)
			}
		}
	}
	return coupons, nil
}

// Validate looks up a single coupon and checks its validity window and, for
// coupons counted per order, its usage limit. A quantity-mode coupon whose
// budget is spent still validates; it simply yields no discount.
func (v *RepoValidator) Validate(ctx context.Context, code string) (*Coupon, error) {
	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()

	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrCouponExpired
	}

	if !c.CountByQuantity && c.HasUsageLimit() && c.UsageCount >= c.UsageLimit {
		return nil, ErrCouponUsageLimitReached
	}

	return c, nil
}
