package pricing

import (
	"errors"
	"fmt"

	"github.com/noah-isme/hotel-billing/internal/money"
)

// ErrInvalidLineItem is returned when a line carries a negative price or quantity, or
// when a line total or the subtotal is too large to represent.
var ErrInvalidLineItem = errors.New("invalid line item")

// LineItem describes a priced, quantified entry on a bill.
type LineItem struct {
	Description string      `json:"description,omitempty"`
	UnitPrice   money.Money `json:"unitPrice"`
	Quantity    int64       `json:"quantity"`
}

// Total returns round2(unitPrice * quantity) for the line.
func (it LineItem) Total() (money.Money, error) {
	return it.UnitPrice.MulQty(it.Quantity)
}

// Aggregate sums the rounded line totals. Zero-quantity lines contribute nothing.
func Aggregate(items []LineItem) (money.Money, error) {
	var subtotal money.Money
	for i, it := range items {
		if it.Quantity < 0 {
			return money.Zero, fmt.Errorf("item %d: negative quantity %d: %w", i, it.Quantity, ErrInvalidLineItem)
		}
		if it.UnitPrice.IsNegative() {
			return money.Zero, fmt.Errorf("item %d: negative unit price %s: %w", i, it.UnitPrice, ErrInvalidLineItem)
		}
		if it.Quantity == 0 {
			continue
		}
		line, err := it.Total()
		if err != nil {
			return money.Zero, fmt.Errorf("item %d: %w: %w", i, ErrInvalidLineItem, err)
		}
		if subtotal, err = subtotal.Add(line); err != nil {
			return money.Zero, fmt.Errorf("item %d: subtotal: %w: %w", i, ErrInvalidLineItem, err)
		}
	}
	return subtotal, nil
}
