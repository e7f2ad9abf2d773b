package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
)

// GetCoupon handles GET /api/coupon/{code}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Coupons.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// UpdateCouponSettings handles PUT /api/coupon/{code}/settings. Enabling
// quantity mode always enables individual use.
func (h *Handler) UpdateCouponSettings(w http.ResponseWriter, r *http.Request) {
	var s coupon.Settings
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		s, err = decodeSettingsRequest(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.deps.Coupons.UpdateSettings(r.Context(), chi.URLParam(r, "code"), s)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Coupon settings updated",
		zap.String("code", c.Code),
		zap.Bool("count_by_quantity", c.CountByQuantity),
		zap.Bool("individual_use_only", c.IndividualUseOnly),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// ListCouponAdjustments handles GET /api/coupon/{code}/adjustments.
func (h *Handler) ListCouponAdjustments(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, err := h.deps.Coupons.FindByCode(r.Context(), code); err != nil {
		writeError(w, r, err)
		return
	}
	adjustments, err := h.deps.Coupons.ListAdjustments(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeAdjustments(e, adjustments) })
}
