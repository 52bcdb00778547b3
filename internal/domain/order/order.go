// Package order holds the order model and the lifecycle controller that
// places, transitions, and deletes orders while keeping stock reconciled.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"cartledger/internal/docstore"
	"cartledger/internal/domain/coupon"
)

// Collection is the document store collection holding order documents.
const Collection = "orders"

// Status is an order's lifecycle state. The wire values are shared with the
// administrative UI; anything else is rejected at the boundary.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusInProgress     Status = "InProgress"
	StatusOutForDelivery Status = "OutForDelivery"
	StatusCompleted      Status = "Completed"
	StatusRejected       Status = "Rejected"
)

var statuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusOutForDelivery,
	StatusCompleted,
	StatusRejected,
}

// ErrInvalidStatus is returned for a status string outside the enum.
var ErrInvalidStatus = errors.New("invalid order status")

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// ErrEmptyItems is returned when an order is placed with no line items.
var ErrEmptyItems = errors.New("items required")

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// ParseStatus validates a wire status string.
func ParseStatus(s string) (Status, error) {
	if !slices.Contains(statuses, Status(s)) {
		return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
	}
	return Status(s), nil
}

// LineItem is a frozen copy of product identity and pricing at order time.
// Catalog changes never retroactively affect a placed order.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Customer is the delivery contact captured with the order.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Order is a placed customer order.
type Order struct {
	ID            string          `json:"id"`
	Items         []LineItem      `json:"items"`
	Customer      Customer        `json:"customer"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"deliveryFee"`
	CouponApplied *coupon.Applied `json:"couponApplied,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Load reads an order document inside a transaction.
func Load(ctx context.Context, tx docstore.Tx, id string) (*Order, error) {
	body, err := tx.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, errors.Wrapf(err, "decode order %q", id)
	}
	return &o, nil
}

// Save stages an order document write inside a transaction.
func Save(tx docstore.Tx, o *Order) error {
	body, err := json.Marshal(o)
	if err != nil {
		return errors.Wrapf(err, "encode order %q", o.ID)
	}
	tx.Set(Collection, o.ID, body)
	return nil
}

// Repo provides order reads outside transactions.
type Repo struct {
	store docstore.Store
}

// NewRepo returns a Repo backed by the given store.
func NewRepo(store docstore.Store) *Repo {
	return &Repo{store: store}
}

// GetByID returns a single order, or ErrNotFound.
func (r *Repo) GetByID(ctx context.Context, id string) (*Order, error) {
	body, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, errors.Wrapf(err, "decode order %q", id)
	}
	return &o, nil
}

// List returns every order, newest first.
func (r *Repo) List(ctx context.Context) ([]Order, error) {
	docs, err := r.store.List(ctx, Collection)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	out := make([]Order, 0, len(docs))
	for id, body := range docs {
		var o Order
		if err := json.Unmarshal(body, &o); err != nil {
			return nil, errors.Wrapf(err, "decode order %q", id)
		}
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}
