package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"cartledger/internal/docstore"
	"cartledger/internal/domain/catalog"
	"cartledger/internal/domain/coupon"
	"cartledger/internal/domain/order"
	"cartledger/internal/ledger"
)

// errorBody is the JSON error envelope. Code is a stable machine identifier
// clients branch on; Message is for humans and may change.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeDomainError maps a domain error onto HTTP. Unknown errors become a
// logged 500 with no internals leaked.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	switch status {
	case http.StatusInternalServerError:
		zctx.From(r.Context()).Error("Unhandled error", zap.Error(err))
		body = errorBody{Code: "INTERNAL", Message: "internal error"}
	case http.StatusServiceUnavailable:
		zctx.From(r.Context()).Error("Store unavailable", zap.Error(err))
	}
	respond(w, r, status, body)
}

func classify(err error) (int, errorBody) {
	var (
		productMissing *ledger.ProductMissingError
		variantMissing *ledger.VariantMissingError
		insufficient   *ledger.InsufficientStockError
		invalidQty     *order.InvalidQuantityError
	)

	switch {
	case errors.As(err, &productMissing):
		return http.StatusUnprocessableEntity,
			errorBody{Code: "PRODUCT_MISSING", Message: productMissing.Error()}
	case errors.As(err, &variantMissing):
		return http.StatusUnprocessableEntity,
			errorBody{Code: "VARIANT_MISSING", Message: variantMissing.Error()}
	case errors.As(err, &insufficient):
		return http.StatusConflict, errorBody{
			Code:    "INSUFFICIENT_STOCK",
			Message: insufficient.Error(),
			Details: insufficient.Shortages,
		}
	case errors.As(err, &invalidQty):
		return http.StatusUnprocessableEntity,
			errorBody{Code: "INVALID_QUANTITY", Message: invalidQty.Error()}

	case errors.Is(err, order.ErrEmptyItems):
		return http.StatusBadRequest, errorBody{Code: "EMPTY_ITEMS", Message: err.Error()}
	case errors.Is(err, order.ErrInvalidStatus):
		return http.StatusBadRequest, errorBody{Code: "INVALID_STATUS", Message: err.Error()}
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "ORDER_NOT_FOUND", Message: err.Error()}

	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "PRODUCT_NOT_FOUND", Message: err.Error()}
	case errors.Is(err, catalog.ErrVariantNotFound):
		return http.StatusUnprocessableEntity,
			errorBody{Code: "VARIANT_MISSING", Message: err.Error()}
	case errors.Is(err, catalog.ErrInvalidDiscount):
		return http.StatusUnprocessableEntity,
			errorBody{Code: "INVALID_DISCOUNT", Message: err.Error()}
	case errors.Is(err, catalog.ErrNegativeStock):
		return http.StatusUnprocessableEntity,
			errorBody{Code: "NEGATIVE_STOCK", Message: err.Error()}

	case errors.Is(err, coupon.ErrNotFound):
		return http.StatusUnprocessableEntity, couponBody("COUPON_NOT_FOUND", err)
	case errors.Is(err, coupon.ErrInactive):
		return http.StatusUnprocessableEntity, couponBody("COUPON_INACTIVE", err)
	case errors.Is(err, coupon.ErrExpired):
		return http.StatusUnprocessableEntity, couponBody("COUPON_EXPIRED", err)
	case errors.Is(err, coupon.ErrExhausted):
		return http.StatusUnprocessableEntity, couponBody("COUPON_EXHAUSTED", err)
	case errors.Is(err, coupon.ErrBelowMinimum):
		return http.StatusUnprocessableEntity, couponBody("COUPON_BELOW_MINIMUM", err)
	case errors.Is(err, coupon.ErrDiscountConflict):
		return http.StatusUnprocessableEntity, couponBody("COUPON_DISCOUNT_CONFLICT", err)

	case errors.Is(err, docstore.ErrConflict):
		return http.StatusConflict,
			errorBody{Code: "STORE_CONFLICT", Message: "please retry the request"}
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable,
			errorBody{Code: "STORE_UNAVAILABLE", Message: "store temporarily unavailable, please retry later"}
	}

	return http.StatusInternalServerError, errorBody{}
}

func couponBody(code string, err error) errorBody {
	return errorBody{Code: code, Message: err.Error()}
}
