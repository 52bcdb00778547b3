// Package ledger implements the atomic stock ledger: the read-check-write
// sequence shared by order placement, status transitions, and deletion.
//
// A batch of signed stock deltas is validated and staged inside one store
// transaction. Either every entry can be applied or nothing is written; the
// transaction primitive guarantees no partial application.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"cartledger/internal/docstore"
	"cartledger/internal/domain/catalog"
)

// Direction says which way a stock counter moves.
type Direction int8

const (
	// Debit reserves stock: the counter goes down and the entry fails when
	// the available stock is insufficient.
	Debit Direction = iota + 1
	// Credit restores stock: the counter goes up, never checked.
	Credit
)

// Entry is one stock movement against a product or one of its variants.
type Entry struct {
	ProductID string
	Size      string
	Color     string
	Quantity  int
	Direction Direction
}

// ProductMissingError indicates a referenced product document does not exist.
type ProductMissingError struct {
	ProductID string
}

func (e *ProductMissingError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// VariantMissingError indicates no variant matches the entry's (size, color).
type VariantMissingError struct {
	ProductID string
	Size      string
	Color     string
}

func (e *VariantMissingError) Error() string {
	return fmt.Sprintf("product %s has no variant (size=%q, color=%q)", e.ProductID, e.Size, e.Color)
}

// Shortage describes one debit that could not be covered.
type Shortage struct {
	ProductID string `json:"productId"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// InsufficientStockError aborts the whole batch and reports every entry that
// was short, so the caller can prompt quantity adjustments in one round.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		parts[i] = fmt.Sprintf("%s: %d available, %d requested", s.ProductID, s.Available, s.Requested)
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// Apply validates and stages the batch inside the given transaction. Entries
// touching the same product document are merged into one staged write, so an
// order holding two variants of one product never issues conflicting writes.
//
// On any error nothing is staged for commit; the caller aborts the
// transaction by returning the error from its body.
func Apply(ctx context.Context, tx docstore.Tx, entries []Entry) error {
	grouped, order := groupByProduct(entries)

	staged := make([]*catalog.Product, 0, len(order))
	var shortages []Shortage

	for _, id := range order {
		p, err := catalog.Load(ctx, tx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return &ProductMissingError{ProductID: id}
			}
			return err
		}

		for _, e := range grouped[id] {
			current, setStock, err := resolveStock(p, e)
			if err != nil {
				return err
			}

			switch e.Direction {
			case Debit:
				if current < e.Quantity {
					shortages = append(shortages, Shortage{
						ProductID: e.ProductID,
						Size:      e.Size,
						Color:     e.Color,
						Available: current,
						Requested: e.Quantity,
					})
					continue
				}
				setStock(clampStock(current - e.Quantity))
			case Credit:
				setStock(clampStock(current + e.Quantity))
			default:
				return errors.Errorf("unknown ledger direction %d", e.Direction)
			}
		}

		staged = append(staged, p)
	}

	if len(shortages) > 0 {
		return &InsufficientStockError{Shortages: shortages}
	}

	for _, p := range staged {
		if err := catalog.Save(tx, p); err != nil {
			return err
		}
	}
	return nil
}

// resolveStock locates the stock counter an entry targets and returns its
// current value plus a setter writing back into the loaded document.
func resolveStock(p *catalog.Product, e Entry) (int, func(int), error) {
	if !p.HasVariants {
		return p.Stock, func(v int) { p.Stock = v }, nil
	}

	variant, ok := p.VariantAt(e.Size, e.Color)
	if !ok {
		return 0, nil, &VariantMissingError{ProductID: e.ProductID, Size: e.Size, Color: e.Color}
	}
	return variant.Stock, func(v int) { variant.Stock = v }, nil
}

func clampStock(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// groupByProduct buckets entries per product document, preserving first-seen
// product order for deterministic staging.
func groupByProduct(entries []Entry) (map[string][]Entry, []string) {
	grouped := make(map[string][]Entry, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := grouped[e.ProductID]; !ok {
			order = append(order, e.ProductID)
		}
		grouped[e.ProductID] = append(grouped[e.ProductID], e)
	}
	return grouped, order
}
