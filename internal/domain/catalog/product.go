// Package catalog holds the product catalog model: products, their purchasable
// variants, and discount pricing.
package catalog

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"cartledger/internal/docstore"
)

// Collection is the document store collection holding product documents.
const Collection = "products"

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// DiscountKind enumerates the supported product discount strategies.
type DiscountKind string

const (
	// DiscountPercentage reduces the base price by a percentage in (0, 100).
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixed subtracts a fixed amount, floored at zero.
	DiscountFixed DiscountKind = "fixed"
)

// Discount describes a price adjustment applied to a product.
type Discount struct {
	Kind   DiscountKind    `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// Variant is a distinct purchasable configuration of a product. At least one
// of Size or Color is set; an empty field means "no constraint" and is part
// of the variant's identity, not a wildcard.
type Variant struct {
	Size          string          `json:"size,omitempty"`
	Color         string          `json:"color,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
}

// Product is a catalog item. When HasVariants is true, price and stock live
// on the Variants list and the scalar Price/Stock fields are unused.
//
// When HasDiscount is true, Price (or each variant's Price) is the
// already-discounted value and OriginalPrice preserves the pre-discount base.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	HasVariants bool            `json:"hasVariants"`
	Variants    []Variant       `json:"variants,omitempty"`

	HasDiscount       bool            `json:"hasDiscount"`
	DiscountKind      DiscountKind    `json:"discountKind,omitempty"`
	DiscountAmount    decimal.Decimal `json:"discountAmount"`
	DiscountExpiresAt *time.Time      `json:"discountExpiresAt,omitempty"`
	OriginalPrice     decimal.Decimal `json:"originalPrice"`
}

// VariantAt returns the variant matching (size, color) exactly. Empty
// components must match empty components: a variant with no color is distinct
// from one with a color.
func (p *Product) VariantAt(size, color string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].Size == size && p.Variants[i].Color == color {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// DiscountActive reports whether the product's discount applies at the given
// instant. A discount with no expiry never lapses on its own.
func (p *Product) DiscountActive(now time.Time) bool {
	if !p.HasDiscount {
		return false
	}
	return p.DiscountExpiresAt == nil || now.Before(*p.DiscountExpiresAt)
}

// Load reads and decodes a product document inside a transaction.
func Load(ctx context.Context, tx docstore.Tx, id string) (*Product, error) {
	body, err := tx.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	var p Product
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.Wrapf(err, "decode product %q", id)
	}
	return &p, nil
}

// Save stages a product document write inside a transaction.
func Save(tx docstore.Tx, p *Product) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "encode product %q", p.ID)
	}
	tx.Set(Collection, p.ID, body)
	return nil
}

// Repo provides read access to the product collection outside transactions.
type Repo struct {
	store docstore.Store
}

// NewRepo returns a Repo backed by the given store.
func NewRepo(store docstore.Store) *Repo {
	return &Repo{store: store}
}

// GetByID returns a single product, or ErrNotFound.
func (r *Repo) GetByID(ctx context.Context, id string) (*Product, error) {
	body, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	var p Product
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.Wrapf(err, "decode product %q", id)
	}
	return &p, nil
}

// List returns every product in the catalog.
func (r *Repo) List(ctx context.Context) ([]Product, error) {
	docs, err := r.store.List(ctx, Collection)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}

	out := make([]Product, 0, len(docs))
	for id, body := range docs {
		var p Product
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errors.Wrapf(err, "decode product %q", id)
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}
