package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/hotel-billing/internal/money"
)

var (
	// ErrInvalidVoucher matches every voucher rejection regardless of reason.
	ErrInvalidVoucher = errors.New("invalid voucher")
	// ErrNotFound is returned when no voucher exists for the code.
	ErrNotFound = errors.New("voucher not found")
	// ErrExpired is returned when the voucher is past its validity window.
	ErrExpired = errors.New("voucher expired")
	// ErrInactive is returned for disabled vouchers and vouchers not yet valid.
	ErrInactive = errors.New("voucher not active")
	// ErrAlreadyRedeemed is returned when the voucher has been used.
	ErrAlreadyRedeemed = errors.New("voucher already redeemed")
)

// Reason classifies why a voucher was rejected.
type Reason string

const (
	ReasonNotFound        Reason = "not_found"
	ReasonExpired         Reason = "expired"
	ReasonInactive        Reason = "inactive"
	ReasonAlreadyRedeemed Reason = "already_redeemed"
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonNotFound:
		return ErrNotFound
	case ReasonExpired:
		return ErrExpired
	case ReasonInactive:
		return ErrInactive
	case ReasonAlreadyRedeemed:
		return ErrAlreadyRedeemed
	default:
		return ErrInvalidVoucher
	}
}

// InvalidError reports a rejected voucher code.
type InvalidError struct {
	Code   string
	Reason Reason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("voucher %s: %s", e.Code, e.Reason)
}

// Unwrap exposes the reason sentinel so errors.Is(err, ErrExpired) works.
func (e *InvalidError) Unwrap() error { return e.Reason.sentinel() }

// Is reports true for ErrInvalidVoucher in addition to the reason sentinel.
func (e *InvalidError) Is(target error) bool { return target == ErrInvalidVoucher }

// ErrorCode is the API error code for voucher rejections.
func (e *InvalidError) ErrorCode() string { return "INVALID_VOUCHER" }

// ErrorDetails carries the rejection reason to API clients.
func (e *InvalidError) ErrorDetails() any {
	return map[string]string{"code": e.Code, "reason": string(e.Reason)}
}

func invalid(code string, reason Reason) error {
	return &InvalidError{Code: code, Reason: reason}
}

// ReasonOf extracts the rejection reason from err, if it is a voucher rejection.
func ReasonOf(err error) (Reason, bool) {
	var ie *InvalidError
	if errors.As(err, &ie) {
		return ie.Reason, true
	}
	return "", false
}

// DiscountType selects how DiscountAmount is interpreted.
type DiscountType string

const (
	Percentage DiscountType = "percentage"
	Fixed      DiscountType = "fixed"
)

// ParseDiscountType normalises a textual discount type.
func ParseDiscountType(value string) (DiscountType, error) {
	switch t := DiscountType(strings.ToLower(strings.TrimSpace(value))); t {
	case Percentage, Fixed:
		return t, nil
	default:
		return "", fmt.Errorf("unknown discount type %q", value)
	}
}

// Voucher is a discount code issued by a manager.
type Voucher struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	DiscountType   DiscountType    `json:"discountType"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	IsActive       bool            `json:"isActive"`
	ValidFrom      *time.Time      `json:"validFrom,omitempty"`
	ValidUntil     *time.Time      `json:"validUntil,omitempty"`
	Redeemed       bool            `json:"redeemed"`
	RedeemedAt     *time.Time      `json:"redeemedAt,omitempty"`
	RedemptionRef  string          `json:"redemptionRef,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NormalizeCode trims and upper-cases a voucher code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckUsable verifies the time-independent conditions: the voucher is enabled and unused.
func CheckUsable(v Voucher) error {
	code := NormalizeCode(v.Code)
	if v.Redeemed {
		return invalid(code, ReasonAlreadyRedeemed)
	}
	if !v.IsActive {
		return invalid(code, ReasonInactive)
	}
	return nil
}

// Validate ensures the voucher can be applied at the provided instant.
func Validate(v Voucher, now time.Time) error {
	if err := CheckUsable(v); err != nil {
		return err
	}
	code := NormalizeCode(v.Code)
	if v.ValidFrom != nil && now.Before(*v.ValidFrom) {
		return invalid(code, ReasonInactive)
	}
	if v.ValidUntil != nil && now.After(*v.ValidUntil) {
		return invalid(code, ReasonExpired)
	}
	return nil
}

// Registry looks vouchers up by normalised code. Implementations return ErrNotFound
// (possibly wrapped) when the code is unknown.
type Registry interface {
	FindByCode(ctx context.Context, code string) (Voucher, error)
}

// MapRegistry is an in-memory Registry keyed by normalised code.
type MapRegistry map[string]Voucher

// FindByCode implements Registry.
func (m MapRegistry) FindByCode(_ context.Context, code string) (Voucher, error) {
	v, ok := m[NormalizeCode(code)]
	if !ok {
		return Voucher{}, ErrNotFound
	}
	return v, nil
}

// Resolve looks the code up and validates it. Unknown codes surface as not_found rather
// than a zero discount.
func Resolve(ctx context.Context, reg Registry, code string, now time.Time) (Voucher, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Voucher{}, invalid(normalized, ReasonNotFound)
	}
	if reg == nil {
		return Voucher{}, errors.New("voucher registry not configured")
	}
	v, err := reg.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Voucher{}, invalid(normalized, ReasonNotFound)
		}
		return Voucher{}, err
	}
	v.Code = NormalizeCode(v.Code)
	if err := Validate(v, now); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

// ComputeDiscount determines the discount for base. Discounts are clamped to the
// base so a bill can never go negative.
func ComputeDiscount(base money.Money, v Voucher) money.Money {
	if !base.IsPositive() || v.DiscountAmount.IsNegative() {
		return money.Zero
	}
	var (
		discount money.Money
		err      error
	)
	switch v.DiscountType {
	case Percentage:
		discount, err = base.Percent(v.DiscountAmount)
	case Fixed:
		discount, err = money.FromDecimal(v.DiscountAmount)
	default:
		return money.Zero
	}
	if err != nil {
		// only a non-negative value beyond int64 minor units fails here
		return base
	}
	return money.Min(discount, base)
}
