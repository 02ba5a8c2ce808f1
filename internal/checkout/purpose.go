package checkout

import (
	"fmt"
	"strings"

	"github.com/noah-isme/hotel-billing/internal/pricing"
)

// Purpose identifies the call site that is billing the guest.
type Purpose string

const (
	RestaurantCheckout Purpose = "restaurant_checkout"
	TableBilling       Purpose = "table_billing"
	RoomCheckout       Purpose = "room_checkout"
	HallQuotation      Purpose = "hall_quotation"
)

// ParsePurpose normalises user input into a Purpose.
func ParsePurpose(value string) (Purpose, error) {
	switch p := Purpose(strings.ToLower(strings.TrimSpace(value))); p {
	case RestaurantCheckout, TableBilling, RoomCheckout, HallQuotation:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown purpose %q", ErrInvalidRequest, value)
	}
}

// DefaultBasis is the discount basis each call site has always used. Room and
// hall bills discount before tax; restaurant and table bills after.
func (p Purpose) DefaultBasis() pricing.DiscountBasis {
	switch p {
	case RoomCheckout, HallQuotation:
		return pricing.PreTax
	default:
		return pricing.PostTax
	}
}
