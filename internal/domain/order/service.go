package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"cartledger/internal/cache"
	"cartledger/internal/docstore"
	"cartledger/internal/domain/catalog"
	"cartledger/internal/domain/coupon"
	"cartledger/internal/ledger"
)

// CartItem is one requested line in a checkout cart.
type CartItem struct {
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items       []CartItem
	Customer    Customer
	CouponCode  string
	DeliveryFee decimal.Decimal
}

// Service is the order lifecycle controller. It is the sole writer of order
// status and the only component that moves stock as a side effect of order
// events; every mutation happens inside a single store transaction.
type Service struct {
	store       docstore.Store
	invalidator cache.Invalidator
	now         func() time.Time
	newID       func() string

	ordersPlaced metric.Int64Counter
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator injects the order ID source, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithMeterProvider enables order metrics on the given provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		counter, err := mp.Meter("cartledger/order").Int64Counter("orders_placed_total")
		if err == nil {
			s.ordersPlaced = counter
		}
	}
}

// NewService creates the lifecycle controller.
func NewService(store docstore.Store, invalidator cache.Invalidator, opts ...Option) *Service {
	s := &Service{
		store:       store,
		invalidator: invalidator,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if s.invalidator == nil {
		s.invalidator = cache.Noop{}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ordersPlaced == nil {
		counter, _ := noop.NewMeterProvider().Meter("").Int64Counter("orders_placed_total")
		s.ordersPlaced = counter
	}
	return s
}

// PlaceOrder validates the cart and coupon, freezes per-item prices, debits
// stock, and creates the order, all in one transaction. On any failure
// nothing is written: no order exists and no stock moved.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
	}

	var placed *Order
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		placed = nil // bodies re-run on conflict
		now := s.now()

		items := make([]LineItem, len(req.Items))
		subtotal := decimal.Zero
		hasDiscounted := false

		for i, item := range req.Items {
			p, err := catalog.Load(ctx, tx, item.ProductID)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return &ledger.ProductMissingError{ProductID: item.ProductID}
				}
				return err
			}

			var variant *catalog.Variant
			if p.HasVariants {
				v, ok := p.VariantAt(item.Size, item.Color)
				if !ok {
					return &ledger.VariantMissingError{
						ProductID: item.ProductID,
						Size:      item.Size,
						Color:     item.Color,
					}
				}
				variant = v
			}

			unit := unitPrice(p, variant, now)
			items[i] = LineItem{
				ProductID: item.ProductID,
				Name:      p.Name,
				Size:      item.Size,
				Color:     item.Color,
				UnitPrice: unit,
				Quantity:  item.Quantity,
			}
			subtotal = subtotal.Add(unit.Mul(decimal.NewFromInt(int64(item.Quantity))))
			if p.DiscountActive(now) {
				hasDiscounted = true
			}
		}

		var applied *coupon.Applied
		if req.CouponCode != "" {
			c, err := coupon.Load(ctx, tx, req.CouponCode)
			if err != nil {
				return err
			}
			applied, err = coupon.Evaluate(c, coupon.Cart{
				Subtotal:          subtotal,
				HasDiscountedItem: hasDiscounted,
			}, now)
			if err != nil {
				return err
			}

			// The increment commits with the order, never separately: an
			// abandoned cart cannot spend a coupon.
			c.UsedCount++
			if err := coupon.Save(tx, c); err != nil {
				return err
			}
		}

		if err := ledger.Apply(ctx, tx, debitEntries(req.Items)); err != nil {
			return err
		}

		total := subtotal
		if applied != nil {
			total = total.Sub(applied.Discount)
			if total.IsNegative() {
				total = decimal.Zero
			}
		}
		total = total.Add(req.DeliveryFee)

		placed = &Order{
			ID:            s.newID(),
			Items:         items,
			Customer:      req.Customer,
			Subtotal:      subtotal,
			DeliveryFee:   req.DeliveryFee,
			CouponApplied: applied,
			Total:         total,
			Status:        StatusPending,
			CreatedAt:     now,
		}
		return Save(tx, placed)
	})
	if err != nil {
		return nil, err
	}

	s.ordersPlaced.Add(ctx, 1)
	s.invalidate(ctx, productIDs(req.Items))
	return placed, nil
}

// ChangeOrderStatus moves an order to newStatus. Transitions into Rejected
// restore stock; transitions out of Rejected re-reserve it and fail with
// InsufficientStock when the stock was sold in the interim, in which case
// the status does not change either. All other transitions touch no stock.
// Setting the current status again is a no-op.
func (s *Service) ChangeOrderStatus(ctx context.Context, orderID string, newStatus Status) (*Order, error) {
	if _, err := ParseStatus(string(newStatus)); err != nil {
		return nil, err
	}

	var (
		updated      *Order
		stockTouched []string
	)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		updated, stockTouched = nil, nil

		o, err := Load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status == newStatus {
			updated = o
			return nil
		}

		var entries []ledger.Entry
		switch {
		case newStatus == StatusRejected:
			entries = stockEntries(o.Items, ledger.Credit)
		case o.Status == StatusRejected:
			entries = stockEntries(o.Items, ledger.Debit)
		}
		if len(entries) > 0 {
			if err := ledger.Apply(ctx, tx, entries); err != nil {
				return err
			}
			stockTouched = lineProductIDs(o.Items)
		}

		o.Status = newStatus
		updated = o
		return Save(tx, o)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, stockTouched)
	return updated, nil
}

// DeleteOrder removes the order and restores stock for every item,
// regardless of the order's last status, in one transaction.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	var touched []string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		touched = nil

		o, err := Load(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := ledger.Apply(ctx, tx, stockEntries(o.Items, ledger.Credit)); err != nil {
			return err
		}
		touched = lineProductIDs(o.Items)

		tx.Delete(Collection, orderID)
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, touched)
	return nil
}

// invalidate tells read caches the given products changed. The commit
// already happened; a failed invalidation is logged, not returned.
func (s *Service) invalidate(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.invalidator.InvalidateProducts(ctx, ids...); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed",
			zap.Strings("product_ids", ids),
			zap.Error(err),
		)
	}
}

// unitPrice freezes the price a line item is sold at. Live prices are
// already discounted; when a discount has lapsed but catalog cleanup has not
// run yet, the preserved pre-discount base applies instead.
func unitPrice(p *catalog.Product, v *catalog.Variant, now time.Time) decimal.Decimal {
	live, original := p.Price, p.OriginalPrice
	if v != nil {
		live, original = v.Price, v.OriginalPrice
	}
	if p.HasDiscount && !p.DiscountActive(now) && !original.IsZero() {
		return original
	}
	return live
}

func debitEntries(items []CartItem) []ledger.Entry {
	entries := make([]ledger.Entry, len(items))
	for i, item := range items {
		entries[i] = ledger.Entry{
			ProductID: item.ProductID,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			Direction: ledger.Debit,
		}
	}
	return entries
}

func stockEntries(items []LineItem, dir ledger.Direction) []ledger.Entry {
	entries := make([]ledger.Entry, len(items))
	for i, item := range items {
		entries[i] = ledger.Entry{
			ProductID: item.ProductID,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			Direction: dir,
		}
	}
	return entries
}

func productIDs(items []CartItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids
}

func lineProductIDs(items []LineItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids
}
