package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cartledger/internal/cache"
	"cartledger/internal/docstore"
)

// Validation errors for discount administration.
var (
	ErrInvalidDiscount = errors.New("invalid discount")
	ErrNegativeStock   = errors.New("stock must not be negative")
	ErrVariantNotFound = errors.New("variant not found")
)

// Service is the catalog administration surface: discount management, price
// edits, and manual restocks. It is the only writer of product price and
// stock outside the order path, and like the order path it mutates product
// documents exclusively inside store transactions.
type Service struct {
	store       docstore.Store
	invalidator cache.Invalidator
}

// NewService creates a catalog Service.
func NewService(store docstore.Store, invalidator cache.Invalidator) *Service {
	if invalidator == nil {
		invalidator = cache.Noop{}
	}
	return &Service{store: store, invalidator: invalidator}
}

// ApplyDiscount puts a discount on a product. The pre-discount base is
// preserved in OriginalPrice and the live price becomes the discounted
// value; applying a new discount over an existing one recomputes from the
// preserved base, so repeated applications never compound rounding.
func (s *Service) ApplyDiscount(ctx context.Context, productID string, d Discount, expiresAt *time.Time) error {
	if err := validateDiscount(d); err != nil {
		return err
	}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		p, err := Load(ctx, tx, productID)
		if err != nil {
			return err
		}

		if p.HasVariants {
			for i := range p.Variants {
				v := &p.Variants[i]
				base := v.Price
				if p.HasDiscount {
					base = v.OriginalPrice
				}
				v.OriginalPrice = base
				v.Price = EffectivePrice(base, &d)
			}
		} else {
			base := p.Price
			if p.HasDiscount {
				base = p.OriginalPrice
			}
			p.OriginalPrice = base
			p.Price = EffectivePrice(base, &d)
		}

		p.HasDiscount = true
		p.DiscountKind = d.Kind
		p.DiscountAmount = d.Amount
		p.DiscountExpiresAt = expiresAt

		return Save(tx, p)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, productID)
	return nil
}

// RemoveDiscount restores the pre-discount price and clears every discount
// field in the same document write. Removing from an undiscounted product is
// a no-op.
func (s *Service) RemoveDiscount(ctx context.Context, productID string) error {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		p, err := Load(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !p.HasDiscount {
			return nil
		}

		if p.HasVariants {
			for i := range p.Variants {
				v := &p.Variants[i]
				v.Price = v.OriginalPrice
				v.OriginalPrice = decimal.Zero
			}
		} else {
			p.Price = p.OriginalPrice
		}

		p.HasDiscount = false
		p.DiscountKind = ""
		p.DiscountAmount = decimal.Zero
		p.DiscountExpiresAt = nil
		p.OriginalPrice = decimal.Zero

		return Save(tx, p)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, productID)
	return nil
}

// SetBasePrice changes a product's (or variant's) base price. When a discount
// is active, the new base lands in OriginalPrice and the live price is
// recomputed from it, so the discount is reapplied to the new base without
// rounding twice.
func (s *Service) SetBasePrice(ctx context.Context, productID, size, color string, price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrInvalidDiscount
	}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		p, err := Load(ctx, tx, productID)
		if err != nil {
			return err
		}

		var d *Discount
		if p.HasDiscount {
			d = &Discount{Kind: p.DiscountKind, Amount: p.DiscountAmount}
		}

		if p.HasVariants {
			v, ok := p.VariantAt(size, color)
			if !ok {
				return ErrVariantNotFound
			}
			if d != nil {
				v.OriginalPrice = price
			}
			v.Price = EffectivePrice(price, d)
		} else {
			if d != nil {
				p.OriginalPrice = price
			}
			p.Price = EffectivePrice(price, d)
		}

		return Save(tx, p)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, productID)
	return nil
}

// SetStock overwrites the stock counter of a product or variant. Used for
// manual restocks and corrections; order-driven stock movement goes through
// the stock ledger instead.
func (s *Service) SetStock(ctx context.Context, productID, size, color string, stock int) error {
	if stock < 0 {
		return ErrNegativeStock
	}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		p, err := Load(ctx, tx, productID)
		if err != nil {
			return err
		}

		if p.HasVariants {
			v, ok := p.VariantAt(size, color)
			if !ok {
				return ErrVariantNotFound
			}
			v.Stock = stock
		} else {
			p.Stock = stock
		}

		return Save(tx, p)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, productID)
	return nil
}

// invalidate tells read caches the product changed. The commit already
// happened; a failed invalidation is logged, not returned.
func (s *Service) invalidate(ctx context.Context, productID string) {
	if err := s.invalidator.InvalidateProducts(ctx, productID); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed",
			zap.String("product_id", productID),
			zap.Error(err),
		)
	}
}

func validateDiscount(d Discount) error {
	switch d.Kind {
	case DiscountPercentage:
		// Exclusive bounds: 100% would zero the price, 0% is meaningless.
		if !d.Amount.IsPositive() || d.Amount.GreaterThanOrEqual(hundred) {
			return errors.Wrap(ErrInvalidDiscount, "percentage must be in (0, 100)")
		}
	case DiscountFixed:
		if !d.Amount.IsPositive() {
			return errors.Wrap(ErrInvalidDiscount, "fixed amount must be positive")
		}
	default:
		return errors.Wrapf(ErrInvalidDiscount, "unknown kind %q", d.Kind)
	}
	return nil
}
