package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/domain/cart"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/usage"
)

// QuoteCart handles POST /api/cart/quote. Nothing is persisted.
func (h *Handler) QuoteCart(w http.ResponseWriter, r *http.Request) {
	var req order.PlaceOrderRequest
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		req, err = decodeCartRequest(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.deps.Orders.Price(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.recordGranted(r.Context(), res.Quote, "quote")

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, res.Quote) })
}

// PlaceOrder handles POST /api/order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req order.PlaceOrderRequest
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		req, err = decodeCartRequest(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.deps.Orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.recordGranted(r.Context(), res.Quote, "order")

	zctx.From(r.Context()).Info("Order placed",
		zap.String("order_id", res.Order.ID),
		zap.Strings("coupon_codes", res.Order.CouponCodes),
		zap.String("total", res.Order.Total.StringFixed(2)),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodePlacedOrder(e, res) })
}

// GetOrder handles GET /api/order/{orderId}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.Orders.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrderStatus handles POST /api/order/{orderId}/status. Entering a
// paid status records coupon usage and reconciles quantity-mode coupons.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var raw string
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		raw, err = decodeStatusRequest(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	next, err := order.ParseStatus(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.deps.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderId"), next)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ReconcileOrder handles POST /api/order/{orderId}/reconcile.
func (h *Handler) ReconcileOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Reconciler.Reconcile(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Outcome == usage.OutcomeOrderMissing {
		writeError(w, r, order.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeReconcileResult(e, res) })
}

func (h *Handler) recordGranted(ctx context.Context, q *cart.Quote, source string) {
	if units := q.GrantedUnits(); units > 0 {
		h.unitsGranted.Add(ctx, int64(units), metric.WithAttributes(attribute.String("source", source)))
	}
}
