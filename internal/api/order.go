package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"cartledger/internal/domain/order"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items          []orderItemRequest `json:"items"`
	Customer       order.Customer     `json:"customer"`
	CouponCode     string             `json:"couponCode,omitempty"`
	DeliveryOption string             `json:"deliveryOption,omitempty"`
}

// PlaceOrder creates an order: stock debit, coupon redemption, and the order
// document commit together or not at all.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	fee := decimal.Zero
	if req.DeliveryOption != "" {
		f, ok := h.deliveryFees[req.DeliveryOption]
		if !ok {
			respond(w, r, http.StatusBadRequest, errorBody{
				Code:    "INVALID_DELIVERY_OPTION",
				Message: "unknown delivery option " + req.DeliveryOption,
			})
			return
		}
		fee = f
	}

	items := make([]order.CartItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.CartItem{
			ProductID: item.ProductID,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
		}
	}

	placed, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Items:       items,
		Customer:    req.Customer,
		CouponCode:  req.CouponCode,
		DeliveryFee: fee,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, placed)
}

// ListOrders returns every order, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderRepo.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, orders)
}

// GetOrder returns a single order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderRepo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, o)
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

// ChangeOrderStatus transitions an order, reconciling stock at the Rejected
// boundary. The status string is validated here before reaching the
// controller.
func (h *Handler) ChangeOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	updated, err := h.orders.ChangeOrderStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, updated)
}

// DeleteOrder removes an order and restores its stock.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}
