package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/hotel-billing/internal/money"
	"github.com/noah-isme/hotel-billing/internal/voucher"
)

// ErrDiscountBasis is returned when the caller does not state a supported discount basis.
var ErrDiscountBasis = errors.New("discount basis must be pre_tax or post_tax")

// DiscountBasis decides whether a voucher discounts the subtotal or the taxed total.
type DiscountBasis string

const (
	PreTax  DiscountBasis = "pre_tax"
	PostTax DiscountBasis = "post_tax"
)

// Valid reports whether b is one of the supported bases.
func (b DiscountBasis) Valid() bool {
	return b == PreTax || b == PostTax
}

// ParseDiscountBasis normalises user input. Empty input is an error; there is no default.
func ParseDiscountBasis(value string) (DiscountBasis, error) {
	b := DiscountBasis(strings.ToLower(strings.TrimSpace(value)))
	if !b.Valid() {
		return "", fmt.Errorf("%q: %w", value, ErrDiscountBasis)
	}
	return b, nil
}

// Bill is the computed result for one set of inputs. It is never mutated after
// ComposeBill returns it.
type Bill struct {
	Subtotal           money.Money   `json:"subtotal"`
	Discount           money.Money   `json:"discount"`
	DiscountedSubtotal money.Money   `json:"discountedSubtotal"`
	TaxBreakdown       TaxBreakdown  `json:"taxBreakdown"`
	TotalTax           money.Money   `json:"totalTax"`
	GrandTotal         money.Money   `json:"grandTotal"`
	DiscountBasis      DiscountBasis `json:"discountBasis"`
	VoucherCode        string        `json:"voucherCode,omitempty"`
}

// ComposeBill aggregates the items, applies the voucher on the requested basis and runs
// the tax cascade. v may be nil. A voucher that is redeemed or disabled is rejected
// rather than ignored; time-window checks belong to voucher.Resolve.
func ComposeBill(items []LineItem, rules []TaxRule, v *voucher.Voucher, basis DiscountBasis) (Bill, error) {
	if !basis.Valid() {
		return Bill{}, fmt.Errorf("%q: %w", basis, ErrDiscountBasis)
	}
	subtotal, err := Aggregate(items)
	if err != nil {
		return Bill{}, err
	}
	bill := Bill{Subtotal: subtotal, DiscountBasis: basis}
	if v != nil {
		if err := voucher.CheckUsable(*v); err != nil {
			return Bill{}, err
		}
		bill.VoucherCode = voucher.NormalizeCode(v.Code)
	}

	switch basis {
	case PreTax:
		if v != nil {
			bill.Discount = voucher.ComputeDiscount(subtotal, *v)
		}
		bill.DiscountedSubtotal = subtotal.Sub(bill.Discount)
		taxes, err := ApplyCascadingTaxes(bill.DiscountedSubtotal, rules)
		if err != nil {
			return Bill{}, totalError(err)
		}
		bill.TaxBreakdown = taxes.Breakdown
		bill.TotalTax = taxes.TotalTax
		bill.GrandTotal = taxes.FinalTotal
	case PostTax:
		taxes, err := ApplyCascadingTaxes(subtotal, rules)
		if err != nil {
			return Bill{}, totalError(err)
		}
		if v != nil {
			bill.Discount = voucher.ComputeDiscount(taxes.FinalTotal, *v)
		}
		bill.DiscountedSubtotal = subtotal
		bill.TaxBreakdown = taxes.Breakdown
		bill.TotalTax = taxes.TotalTax
		bill.GrandTotal = taxes.FinalTotal.Sub(bill.Discount)
	}
	return bill, nil
}

// totalError maps an overflowing taxed total to ErrInvalidLineItem.
func totalError(err error) error {
	if errors.Is(err, money.ErrOutOfRange) {
		return fmt.Errorf("taxed total: %w: %w", ErrInvalidLineItem, err)
	}
	return err
}
