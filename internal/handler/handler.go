// Package handler serves the kart HTTP API on a chi router.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/product"
	"github.com/xenking/kart-coupons/internal/domain/usage"
	"github.com/xenking/kart-coupons/pkg/httpmiddleware"
)

const instrumentationName = "github.com/xenking/kart-coupons/internal/handler"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to image paths in product responses.
	ImageBaseURL string
	// APIKeyPepper is the HMAC key API keys are hashed with.
	APIKeyPepper []byte
	// MeterProvider defaults to a no-op provider.
	MeterProvider metric.MeterProvider
}

// Deps are the domain services the API delegates to.
type Deps struct {
	Products   product.Repository
	Orders     *order.Service
	Coupons    coupon.Repository
	Reconciler *usage.Reconciler
	APIKeys    auth.Repository
}

// Handler serves the API endpoints.
type Handler struct {
	deps         Deps
	imageBaseURL string
	security     *Security

	unitsGranted metric.Int64Counter
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, deps Deps) (*Handler, error) {
	mp := cfg.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	unitsGranted, err := mp.Meter(instrumentationName).Int64Counter("kart.cart.units_granted",
		metric.WithDescription("Units discounted by quantity-limited coupons in quotes and placed orders"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create units counter")
	}

	return &Handler{
		deps:         deps,
		imageBaseURL: cfg.ImageBaseURL,
		security:     NewSecurity(deps.APIKeys, cfg.APIKeyPepper),
		unitsGranted: unitsGranted,
	}, nil
}

// Router returns the API routes under /api. Middlewares are installed on
// the router so they can see the matched route pattern.
func (h *Handler) Router(middlewares ...httpmiddleware.Middleware) *chi.Mux {
	r := chi.NewRouter()
	for _, m := range middlewares {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/product", h.ListProducts)
		r.Get("/product/{productId}", h.GetProduct)
		r.Post("/cart/quote", h.QuoteCart)

		r.Group(func(r chi.Router) {
			r.Use(h.security.Require(auth.ScopeCreateOrder))
			r.Post("/order", h.PlaceOrder)
			r.Get("/order/{orderId}", h.GetOrder)
			r.Post("/order/{orderId}/status", h.UpdateOrderStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.security.Require(auth.ScopeManageCoupons))
			r.Post("/order/{orderId}/reconcile", h.ReconcileOrder)
			r.Get("/coupon/{code}", h.GetCoupon)
			r.Put("/coupon/{code}/settings", h.UpdateCouponSettings)
			r.Get("/coupon/{code}/adjustments", h.ListCouponAdjustments)
		})
	})
	return r
}
