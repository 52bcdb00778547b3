package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"cartledger/internal/domain/coupon"
)

type validateCouponRequest struct {
	Code              string          `json:"code"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	HasDiscountedItem bool            `json:"hasDiscountedItem"`
}

// ValidateCoupon is the read-only checkout preview. It never spends the
// coupon; the authoritative re-check runs inside order placement.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	applied, err := h.coupons.Validate(r.Context(), req.Code, coupon.Cart{
		Subtotal:          req.Subtotal,
		HasDiscountedItem: req.HasDiscountedItem,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, applied)
}
