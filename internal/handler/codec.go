package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-coupons/internal/domain/cart"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/product"
	"github.com/xenking/kart-coupons/internal/domain/usage"
)

// badRequestError marks malformed request bodies.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "invalid request body: " + e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &badRequestError{err: err}
	}
	if err := fn(jx.DecodeBytes(body)); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

// decodeCartRequest reads {"items":[{"productId","quantity"}],"couponCode","couponCodes"}.
func decodeCartRequest(d *jx.Decoder) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var line order.LineRequest
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "productId":
						line.ProductID, err = d.Str()
					case "quantity":
						line.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return errors.Wrap(err, "item")
				}
				req.Items = append(req.Items, line)
				return nil
			})
		case "couponCode":
			if d.Next() == jx.Null {
				return d.Null()
			}
			code, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "couponCode")
			}
			req.CouponCodes = append(req.CouponCodes, code)
			return nil
		case "couponCodes":
			return d.Arr(func(d *jx.Decoder) error {
				code, err := d.Str()
				if err != nil {
					return errors.Wrap(err, "couponCodes")
				}
				req.CouponCodes = append(req.CouponCodes, code)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return req, err
}

func decodeStatusRequest(d *jx.Decoder) (string, error) {
	var status string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return err
	})
	if err == nil && status == "" {
		err = errors.New("status required")
	}
	return status, err
}

func decodeSettingsRequest(d *jx.Decoder) (coupon.Settings, error) {
	var (
		s   coupon.Settings
		set bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "countByQuantity":
			s.CountByQuantity, err = d.Bool()
			set = true
		case "individualUseOnly":
			s.IndividualUseOnly, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && !set {
		err = errors.New("countByQuantity required")
	}
	return s, err
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money writes an amount as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func imageURL(base, path string) string {
	if base == "" || path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("thumbnail", func(e *jx.Encoder) { e.Str(imageURL(h.imageBaseURL, p.Image.Thumbnail)) })
				e.Field("mobile", func(e *jx.Encoder) { e.Str(imageURL(h.imageBaseURL, p.Image.Mobile)) })
				e.Field("tablet", func(e *jx.Encoder) { e.Str(imageURL(h.imageBaseURL, p.Image.Tablet)) })
				e.Field("desktop", func(e *jx.Encoder) { e.Str(imageURL(h.imageBaseURL, p.Image.Desktop)) })
			})
		})
	})
}

func (h *Handler) encodeProducts(e *jx.Encoder, products []product.Product) {
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			h.encodeProduct(e, p)
		}
	})
}

func encodeCouponUsages(e *jx.Encoder, usages []cart.CouponUsage) {
	e.Arr(func(e *jx.Encoder) {
		for _, u := range usages {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(u.Code) })
				e.Field("allocatedUnits", func(e *jx.Encoder) { e.Int(u.AllocatedUnits) })
				e.Field("remainingUnits", func(e *jx.Encoder) {
					if u.RemainingUnits == nil {
						e.Null()
						return
					}
					e.Int(*u.RemainingUnits)
				})
				e.Field("discount", func(e *jx.Encoder) { money(e, u.Discount) })
			})
		}
	})
}

func encodeQuote(e *jx.Encoder, q *cart.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range q.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, l.UnitPrice) })
						e.Field("subtotal", func(e *jx.Encoder) { money(e, l.Subtotal) })
						e.Field("discount", func(e *jx.Encoder) { money(e, l.Discount) })
						e.Field("total", func(e *jx.Encoder) { money(e, l.Total) })
					})
				}
			})
		})
		e.Field("coupons", func(e *jx.Encoder) { encodeCouponUsages(e, q.Coupons) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, q.Subtotal) })
		e.Field("discounts", func(e *jx.Encoder) { money(e, q.Discounts) })
		e.Field("total", func(e *jx.Encoder) { money(e, q.Total) })
	})
}

func encodeStrings(e *jx.Encoder, values []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, v := range values {
			e.Str(v)
		}
	})
}

// encodeOrderFields writes the order fields into an open object so callers
// can append their own.
func encodeOrderFields(e *jx.Encoder, o *order.Order) {
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field("items", func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, item := range o.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
					e.Field("subtotal", func(e *jx.Encoder) { money(e, item.Subtotal) })
					e.Field("total", func(e *jx.Encoder) { money(e, item.Total) })
				})
			}
		})
	})
	e.Field("couponCodes", func(e *jx.Encoder) { encodeStrings(e, o.CouponCodes) })
	e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
	e.Field("discounts", func(e *jx.Encoder) { money(e, o.Discounts) })
	e.Field("usageRecorded", func(e *jx.Encoder) { e.Bool(o.UsageRecorded) })
	e.Field("usageAdjusted", func(e *jx.Encoder) { e.Bool(o.UsageAdjusted) })
	e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
	e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) { encodeOrderFields(e, o) })
}

func (h *Handler) encodePlacedOrder(e *jx.Encoder, res *order.PlaceOrderResult) {
	e.Obj(func(e *jx.Encoder) {
		encodeOrderFields(e, res.Order)
		e.Field("products", func(e *jx.Encoder) { h.encodeProducts(e, res.Products) })
		e.Field("coupons", func(e *jx.Encoder) { encodeCouponUsages(e, res.Quote.Coupons) })
	})
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.DiscountType)) })
		e.Field("value", func(e *jx.Encoder) { money(e, c.Value) })
		if c.Description != "" {
			e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		}
		e.Field("minItems", func(e *jx.Encoder) { e.Int(c.MinItems) })
		if c.ValidFrom != nil {
			e.Field("validFrom", func(e *jx.Encoder) { timestamp(e, *c.ValidFrom) })
		}
		if c.ValidUntil != nil {
			e.Field("validUntil", func(e *jx.Encoder) { timestamp(e, *c.ValidUntil) })
		}
		e.Field("usageLimit", func(e *jx.Encoder) { e.Int(c.UsageLimit) })
		e.Field("usageCount", func(e *jx.Encoder) { e.Int(c.UsageCount) })
		e.Field("remaining", func(e *jx.Encoder) {
			if !c.HasUsageLimit() {
				e.Null()
				return
			}
			e.Int(max(0, c.Remaining()))
		})
		e.Field("countByQuantity", func(e *jx.Encoder) { e.Bool(c.CountByQuantity) })
		e.Field("individualUseOnly", func(e *jx.Encoder) { e.Bool(c.IndividualUseOnly) })
		if c.MaxDiscount.IsPositive() {
			e.Field("maxDiscount", func(e *jx.Encoder) { money(e, c.MaxDiscount) })
		}
	})
}

func encodeAdjustment(e *jx.Encoder, a coupon.Adjustment) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(a.Code) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(a.OrderID) })
		e.Field("previous", func(e *jx.Encoder) { e.Int(a.Previous) })
		e.Field("current", func(e *jx.Encoder) { e.Int(a.Current) })
		e.Field("discountedUnits", func(e *jx.Encoder) { e.Int(a.DiscountedUnits) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, a.CreatedAt) })
	})
}

func encodeAdjustments(e *jx.Encoder, adjustments []coupon.Adjustment) {
	e.Arr(func(e *jx.Encoder) {
		for _, a := range adjustments {
			encodeAdjustment(e, a)
		}
	})
}

func encodeReconcileResult(e *jx.Encoder, res *usage.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(res.OrderID) })
		e.Field("outcome", func(e *jx.Encoder) { e.Str(string(res.Outcome)) })
		e.Field("discountedUnits", func(e *jx.Encoder) { e.Int(res.DiscountedUnits) })
		e.Field("adjustments", func(e *jx.Encoder) { encodeAdjustments(e, res.Adjustments) })
		e.Field("skipped", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for code, reason := range res.Skipped {
					e.Field(code, func(e *jx.Encoder) { e.Str(reason) })
				}
			})
		})
	})
}
