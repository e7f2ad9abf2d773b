package usage

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
)

const instrumentationName = "github.com/xenking/kart-coupons/internal/domain/usage"

// Outcome describes what a reconciliation did.
type Outcome string

const (
	// OutcomeAdjusted means the order was reconciled by this call.
	OutcomeAdjusted Outcome = "adjusted"
	// OutcomeAlreadyAdjusted means an earlier call reconciled the order.
	OutcomeAlreadyAdjusted Outcome = "already_adjusted"
	// OutcomeNotPaid means the order has no recorded usage to correct yet.
	OutcomeNotPaid Outcome = "not_paid"
	// OutcomeOrderMissing means the order does not exist.
	OutcomeOrderMissing Outcome = "order_missing"
)

// Result reports a reconciliation.
type Result struct {
	OrderID         string
	Outcome         Outcome
	DiscountedUnits int
	Adjustments     []coupon.Adjustment
	// Skipped lists applied codes left untouched, with the reason.
	Skipped map[string]string
}

type options struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	now            func() time.Time
}

// Option configures a Reconciler.
type Option func(*options)

// WithMeterProvider sets the meter provider for reconciliation metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for reconciliation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithClock overrides the clock used to stamp adjustments.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Reconciler corrects usage counters of quantity-mode coupons once per paid
// order. It is safe for concurrent use; serialization happens in the store.
type Reconciler struct {
	store  Store
	now    func() time.Time
	tracer trace.Tracer

	reconciliations metric.Int64Counter
	unitsAdjusted   metric.Int64Counter
}

// NewReconciler creates a Reconciler on top of store.
func NewReconciler(store Store, opts ...Option) (*Reconciler, error) {
	o := options{
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	reconciliations, err := meter.Int64Counter("kart.usage.reconciliations",
		metric.WithDescription("Order usage reconciliations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create reconciliations counter")
	}
	unitsAdjusted, err := meter.Int64Counter("kart.usage.units_adjusted",
		metric.WithDescription("Discounted units written to coupon usage counters"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create units counter")
	}

	return &Reconciler{
		store:           store,
		now:             o.now,
		tracer:          o.tracerProvider.Tracer(instrumentationName),
		reconciliations: reconciliations,
		unitsAdjusted:   unitsAdjusted,
	}, nil
}

// Reconcile corrects the usage counter of every quantity-mode coupon applied
// to the order and marks the order as adjusted, all in one transaction.
// Calling it again for the same order changes nothing. A missing order is
// not an error.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "usage.Reconcile",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer span.End()

	var res *Result
	err := r.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = r.reconcile(ctx, tx, orderID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrapf(err, "reconcile order %s", orderID)
	}

	span.SetAttributes(attribute.String("usage.outcome", string(res.Outcome)))
	r.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	for _, a := range res.Adjustments {
		r.unitsAdjusted.Add(ctx, int64(a.DiscountedUnits))
	}

	lg := zctx.From(ctx)
	switch res.Outcome {
	case OutcomeOrderMissing:
		lg.Warn("Order to reconcile not found", zap.String("order_id", orderID))
	case OutcomeAdjusted:
		for _, a := range res.Adjustments {
			lg.Info("Coupon usage reconciled",
				zap.String("order_id", orderID),
				zap.String("code", a.Code),
				zap.Int("previous", a.Previous),
				zap.Int("current", a.Current),
				zap.Int("discounted_units", a.DiscountedUnits),
			)
		}
		for code, reason := range res.Skipped {
			lg.Debug("Coupon skipped during reconcile",
				zap.String("order_id", orderID),
				zap.String("code", code),
				zap.String("reason", reason),
			)
		}
	}

	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, tx Tx, orderID string) (*Result, error) {
	res := &Result{OrderID: orderID, Skipped: map[string]string{}}

	o, err := tx.LockOrder(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		res.Outcome = OutcomeOrderMissing
		return res, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}

	switch {
	case o.UsageAdjusted:
		res.Outcome = OutcomeAlreadyAdjusted
		return res, nil
	case !o.UsageRecorded:
		res.Outcome = OutcomeNotPaid
		return res, nil
	}

	res.DiscountedUnits = DiscountedUnits(o.Items)

	// Sorted so concurrent reconciliations lock coupons in the same order.
	applied := lo.Uniq(o.CouponCodes)
	slices.Sort(applied)

	for _, code := range applied {
		c, err := tx.LockCoupon(ctx, code)
		if errors.Is(err, coupon.ErrNotFound) {
			res.Skipped[code] = "coupon not found"
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "lock coupon %s", code)
		}

		if !c.CountByQuantity {
			res.Skipped[code] = "counted per order"
			continue
		}
		if res.DiscountedUnits == 0 {
			res.Skipped[code] = "no discounted units"
			continue
		}

		a := coupon.Adjustment{
			Code:            c.Code,
			OrderID:         o.ID,
			Previous:        c.UsageCount,
			Current:         Correct(c.UsageCount, res.DiscountedUnits),
			DiscountedUnits: res.DiscountedUnits,
			CreatedAt:       r.now().UTC(),
		}
		if err := tx.SetUsageCount(ctx, c.Code, a.Current); err != nil {
			return nil, errors.Wrapf(err, "set usage count of %s", c.Code)
		}
		if err := tx.RecordAdjustment(ctx, a); err != nil {
			return nil, errors.Wrapf(err, "record adjustment of %s", c.Code)
		}
		res.Adjustments = append(res.Adjustments, a)
	}

	if err := tx.MarkUsageAdjusted(ctx, o.ID); err != nil {
		return nil, errors.Wrap(err, "mark order adjusted")
	}
	res.Outcome = OutcomeAdjusted
	return res, nil
}
