// Package api exposes the storefront and catalog administration endpoints
// over HTTP. Handlers decode requests, delegate to the domain services, and
// map domain errors to stable machine-readable response codes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cartledger/internal/domain/catalog"
	"cartledger/internal/domain/coupon"
	"cartledger/internal/domain/order"
)

// Handler holds the domain dependencies behind the HTTP surface.
type Handler struct {
	products  *catalog.Repo
	catalog   *catalog.Service
	orders    *order.Service
	orderRepo *order.Repo
	coupons   *coupon.Validator

	deliveryFees map[string]decimal.Decimal
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// DeliveryFees maps a delivery option name to its flat fee.
	DeliveryFees map[string]decimal.Decimal
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products *catalog.Repo,
	catalogSvc *catalog.Service,
	orders *order.Service,
	orderRepo *order.Repo,
	coupons *coupon.Validator,
) *Handler {
	return &Handler{
		products:     products,
		catalog:      catalogSvc,
		orders:       orders,
		orderRepo:    orderRepo,
		coupons:      coupons,
		deliveryFees: cfg.DeliveryFees,
	}
}

// Routes mounts every endpoint under /api on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{id}", h.GetProduct)

			r.Post("/{id}/discount", h.ApplyDiscount)
			r.Delete("/{id}/discount", h.RemoveDiscount)
			r.Put("/{id}/price", h.SetPrice)
			r.Put("/{id}/stock", h.SetStock)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.PlaceOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}/status", h.ChangeOrderStatus)
			r.Delete("/{id}", h.DeleteOrder)
		})

		r.Post("/coupons/validate", h.ValidateCoupon)
	})

	return r
}

func respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zctx.From(r.Context()).Error("Encoding response", zap.Error(err))
	}
}

func decode(r *http.Request, into any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
