package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"cartledger/internal/domain/catalog"
)

// ListProducts returns the full catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, products)
}

// GetProduct returns a single product document.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

type applyDiscountRequest struct {
	Kind      catalog.DiscountKind `json:"kind"`
	Amount    decimal.Decimal      `json:"amount"`
	ExpiresAt *time.Time           `json:"expiresAt,omitempty"`
}

// ApplyDiscount puts a discount on a product, preserving its base price.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req applyDiscountRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	err := h.catalog.ApplyDiscount(r.Context(), chi.URLParam(r, "id"),
		catalog.Discount{Kind: req.Kind, Amount: req.Amount}, req.ExpiresAt)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

// RemoveDiscount restores the product's pre-discount price.
func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.RemoveDiscount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type setPriceRequest struct {
	Size  string          `json:"size,omitempty"`
	Color string          `json:"color,omitempty"`
	Price decimal.Decimal `json:"price"`
}

// SetPrice changes a product's (or variant's) base price.
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	err := h.catalog.SetBasePrice(r.Context(), chi.URLParam(r, "id"), req.Size, req.Color, req.Price)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type setStockRequest struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
	Stock int    `json:"stock"`
}

// SetStock overwrites a stock counter for manual restocks and corrections.
func (h *Handler) SetStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	err := h.catalog.SetStock(r.Context(), chi.URLParam(r, "id"), req.Size, req.Color, req.Stock)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}
