package usage

import (
	"context"

	"github.com/xenking/kart-coupons/internal/domain/order"
)

// CompletionHook adapts r to an order status listener that reconciles every
// order entering a paid status.
func CompletionHook(r *Reconciler) order.StatusListener {
	return func(ctx context.Context, o *order.Order, _ order.Status) error {
		if !o.Status.Paid() {
			return nil
		}
		_, err := r.Reconcile(ctx, o.ID)
		return err
	}
}
