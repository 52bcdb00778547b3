// Package coupon holds coupon rules and their validation against a cart.
package coupon

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"cartledger/internal/docstore"
)

// Collection is the document store collection holding coupon documents,
// keyed by normalized code.
const Collection = "coupons"

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the cart subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a fixed amount.
	DiscountFixed DiscountType = "fixed"
)

// Validation failures, in check order. These are stable identifiers: callers
// outside the core map them to localized display text, never the message.
var (
	ErrNotFound         = errors.New("coupon not found")
	ErrInactive         = errors.New("coupon is inactive")
	ErrExpired          = errors.New("coupon has expired")
	ErrExhausted        = errors.New("coupon usage limit reached")
	ErrBelowMinimum     = errors.New("cart subtotal below coupon minimum")
	ErrDiscountConflict = errors.New("coupon not valid on discounted items")
)

// Coupon is a promo code with its constraints and usage counter.
type Coupon struct {
	Code              string           `json:"code"`
	DiscountType      DiscountType     `json:"discountType"`
	DiscountValue     decimal.Decimal  `json:"discountValue"`
	MaxDiscount       *decimal.Decimal `json:"maxDiscount,omitempty"`
	MinPurchase       *decimal.Decimal `json:"minPurchase,omitempty"`
	UsageLimit        *int             `json:"usageLimit,omitempty"`
	UsedCount         int              `json:"usedCount"`
	IsActive          bool             `json:"isActive"`
	ExpiresAt         *time.Time       `json:"expiresAt,omitempty"`
	AllowOnDiscounted bool             `json:"allowOnDiscounted"`
}

// Applied is the snapshot of a successfully applied coupon, frozen onto the
// order at placement time.
type Applied struct {
	Code     string          `json:"code"`
	Type     DiscountType    `json:"type"`
	Value    decimal.Decimal `json:"value"`
	Discount decimal.Decimal `json:"discount"`
}

// Cart is the view of the checkout cart a coupon is validated against.
type Cart struct {
	Subtotal          decimal.Decimal
	HasDiscountedItem bool
}

// NormalizeCode canonicalizes a user-entered coupon code: trimmed,
// uppercased. Coupon documents are keyed by the normalized form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Load reads a coupon document by normalized code inside a transaction.
func Load(ctx context.Context, tx docstore.Tx, code string) (*Coupon, error) {
	body, err := tx.Get(ctx, Collection, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get coupon %q", code)
	}

	var c Coupon
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, errors.Wrapf(err, "decode coupon %q", code)
	}
	return &c, nil
}

// Save stages a coupon document write inside a transaction.
func Save(tx docstore.Tx, c *Coupon) error {
	body, err := json.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "encode coupon %q", c.Code)
	}
	tx.Set(Collection, NormalizeCode(c.Code), body)
	return nil
}

// Repo provides coupon reads outside transactions.
type Repo struct {
	store docstore.Store
}

// NewRepo returns a Repo backed by the given store.
func NewRepo(store docstore.Store) *Repo {
	return &Repo{store: store}
}

// FindByCode looks up a coupon by its normalized code, or ErrNotFound.
func (r *Repo) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	body, err := r.store.Get(ctx, Collection, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get coupon %q", code)
	}

	var c Coupon
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, errors.Wrapf(err, "decode coupon %q", code)
	}
	return &c, nil
}
