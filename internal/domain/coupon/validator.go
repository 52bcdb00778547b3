package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate checks a coupon against a cart and computes the discount it
// grants. Checks run in a fixed order and short-circuit on the first failure,
// cheapest first: active flag, expiry, usage limit, minimum purchase,
// discount stacking.
//
// Evaluate never mutates UsedCount. The increment belongs to the transaction
// that commits the order, so a coupon cannot be spent by a cart that is
// abandoned before checkout.
func Evaluate(c *Coupon, cart Cart, now time.Time) (*Applied, error) {
	if c == nil {
		return nil, ErrNotFound
	}
	if !c.IsActive {
		return nil, ErrInactive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return nil, ErrExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return nil, ErrExhausted
	}
	if c.MinPurchase != nil && cart.Subtotal.LessThan(*c.MinPurchase) {
		return nil, ErrBelowMinimum
	}
	if !c.AllowOnDiscounted && cart.HasDiscountedItem {
		return nil, ErrDiscountConflict
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = cart.Subtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount != nil {
			discount = decimal.Min(discount, *c.MaxDiscount)
		}
	case DiscountFixed:
		discount = c.DiscountValue
	}

	// Never drive the order total negative.
	discount = decimal.Min(discount, cart.Subtotal)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return &Applied{
		Code:     NormalizeCode(c.Code),
		Type:     c.DiscountType,
		Value:    c.DiscountValue,
		Discount: discount.Round(2),
	}, nil
}

// Validator validates a user-entered coupon code against a cart. It backs
// the checkout UI's read-only validate call; the authoritative re-check
// happens inside the order placement transaction.
type Validator struct {
	repo *Repo
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given repo.
func NewValidator(repo *Repo) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate looks up the coupon by normalized code and evaluates it.
func (v *Validator) Validate(ctx context.Context, code string, cart Cart) (*Applied, error) {
	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return Evaluate(c, cart, v.now())
}
