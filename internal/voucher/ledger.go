package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/hotel-billing/internal/money"
	"github.com/noah-isme/hotel-billing/internal/obs"
)

var (
	// ErrDuplicateCode is returned when creating a voucher whose code already exists.
	ErrDuplicateCode = errors.New("voucher code already exists")
	// ErrInvalidDefinition is returned for malformed voucher definitions.
	ErrInvalidDefinition = errors.New("invalid voucher definition")
)

var hundred = decimal.NewFromInt(100)

// PreviewResult describes the outcome of evaluating a voucher without mutating state.
type PreviewResult struct {
	Code     string      `json:"code"`
	Base     money.Money `json:"base"`
	Discount money.Money `json:"discount"`
	Voucher  Voucher     `json:"voucher"`
}

// NewVoucher is the manager input for issuing a voucher.
type NewVoucher struct {
	Code           string
	DiscountType   DiscountType
	DiscountAmount decimal.Decimal
	IsActive       bool
	ValidFrom      *time.Time
	ValidUntil     *time.Time
}

// Ledger owns the redemption lifecycle: unredeemed -> redeemed, once.
type Ledger struct {
	Store Store
	Now   func() time.Time
}

// WithStore returns a copy of the ledger bound to a different store, typically one
// opened over a transaction.
func (l *Ledger) WithStore(s Store) *Ledger {
	return &Ledger{Store: s, Now: l.Now}
}

// Resolve validates code against the ledger's store at the current time.
func (l *Ledger) Resolve(ctx context.Context, code string) (Voucher, error) {
	if l == nil || l.Store == nil {
		return Voucher{}, errors.New("voucher ledger not configured")
	}
	return Resolve(ctx, l.Store, code, l.now())
}

// Preview computes the discount the voucher would grant against base. Nothing is written.
func (l *Ledger) Preview(ctx context.Context, code string, base money.Money) (PreviewResult, error) {
	if base.IsNegative() {
		return PreviewResult{}, fmt.Errorf("preview base %s must not be negative", base)
	}
	v, err := l.Resolve(ctx, code)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{
		Code:     v.Code,
		Base:     base,
		Discount: ComputeDiscount(base, v),
		Voucher:  v,
	}, nil
}

// Redeem marks the voucher as used. A voucher that is already redeemed, or that another
// caller redeems concurrently, yields an already_redeemed InvalidError and no state change.
func (l *Ledger) Redeem(ctx context.Context, code, reference string) (Voucher, error) {
	v, err := l.Resolve(ctx, code)
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			obs.CountRedemption(string(reason))
		}
		return Voucher{}, err
	}
	at := l.now()
	ok, err := l.Store.MarkRedeemed(ctx, v.ID, strings.TrimSpace(reference), at)
	if err != nil {
		obs.CountRedemption("error")
		return Voucher{}, err
	}
	if !ok {
		obs.CountRedemption(string(ReasonAlreadyRedeemed))
		return Voucher{}, invalid(v.Code, ReasonAlreadyRedeemed)
	}
	obs.CountRedemption("redeemed")
	v.Redeemed = true
	v.RedeemedAt = &at
	v.RedemptionRef = strings.TrimSpace(reference)
	return v, nil
}

// Create issues a new voucher. Codes are stored upper-cased.
func (l *Ledger) Create(ctx context.Context, in NewVoucher) (Voucher, error) {
	if l == nil || l.Store == nil {
		return Voucher{}, errors.New("voucher ledger not configured")
	}
	v, err := in.build()
	if err != nil {
		return Voucher{}, err
	}
	return l.Store.Insert(ctx, v)
}

func (in NewVoucher) build() (Voucher, error) {
	code := NormalizeCode(in.Code)
	if code == "" {
		return Voucher{}, fmt.Errorf("code is required: %w", ErrInvalidDefinition)
	}
	if in.DiscountAmount.IsNegative() {
		return Voucher{}, fmt.Errorf("discount amount must not be negative: %w", ErrInvalidDefinition)
	}
	switch in.DiscountType {
	case Percentage:
		if in.DiscountAmount.GreaterThan(hundred) {
			return Voucher{}, fmt.Errorf("percentage above 100: %w", ErrInvalidDefinition)
		}
	case Fixed:
	default:
		return Voucher{}, fmt.Errorf("discount type %q: %w", in.DiscountType, ErrInvalidDefinition)
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && in.ValidUntil.Before(*in.ValidFrom) {
		return Voucher{}, fmt.Errorf("validUntil before validFrom: %w", ErrInvalidDefinition)
	}
	return Voucher{
		Code:           code,
		DiscountType:   in.DiscountType,
		DiscountAmount: in.DiscountAmount,
		IsActive:       in.IsActive,
		ValidFrom:      in.ValidFrom,
		ValidUntil:     in.ValidUntil,
	}, nil
}

func (l *Ledger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func parseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}
