package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/product"
	"github.com/xenking/kart-coupons/pkg/httpmiddleware"
)

// errorStatus maps a domain error to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	var (
		badRequest        *badRequestError
		invalidQuantity   *order.InvalidQuantityError
		productNotFound   *order.ProductNotFoundError
		invalidTransition *order.InvalidTransitionError
		unknownStatus     *order.UnknownStatusError
	)

	switch {
	case errors.As(err, &badRequest):
		return http.StatusBadRequest, badRequest.Error()
	case errors.Is(err, order.ErrEmptyItems):
		return http.StatusBadRequest, order.ErrEmptyItems.Error()
	case errors.As(err, &unknownStatus):
		return http.StatusBadRequest, unknownStatus.Error()
	case errors.As(err, &invalidQuantity):
		return http.StatusUnprocessableEntity, invalidQuantity.Error()
	case errors.As(err, &productNotFound):
		return http.StatusUnprocessableEntity, productNotFound.Error()
	case errors.As(err, &invalidTransition):
		return http.StatusConflict, invalidTransition.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, coupon.ErrNotFound):
		return http.StatusNotFound, coupon.ErrNotFound.Error()
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, product.ErrNotFound.Error()
	}

	for _, sentinel := range []error{
		coupon.ErrInvalidCoupon,
		coupon.ErrCouponExpired,
		coupon.ErrCouponUsageLimitReached,
		coupon.ErrIndividualUseOnly,
	} {
		if errors.Is(err, sentinel) {
			return http.StatusUnprocessableEntity, sentinel.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}
