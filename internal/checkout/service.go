// Package checkout drives the billing engine for restaurant, table, room and
// hall bills: it quotes, settles and records payments.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/hotel-billing/internal/events"
	"github.com/noah-isme/hotel-billing/internal/lock"
	"github.com/noah-isme/hotel-billing/internal/obs"
	"github.com/noah-isme/hotel-billing/internal/pricing"
	"github.com/noah-isme/hotel-billing/internal/settlement"
	"github.com/noah-isme/hotel-billing/internal/txn"
	"github.com/noah-isme/hotel-billing/internal/voucher"
)

// ErrInvalidRequest marks caller mistakes that are not domain rejections.
var ErrInvalidRequest = errors.New("checkout: invalid request")

// TaxRuleSource supplies the rules currently in force.
type TaxRuleSource interface {
	Active(ctx context.Context) ([]pricing.TaxRule, error)
}

type QuoteInput struct {
	Purpose     Purpose
	Items       []pricing.LineItem
	VoucherCode string
	// Basis overrides the purpose default when set.
	Basis pricing.DiscountBasis
}

func (in QuoteInput) basis() pricing.DiscountBasis {
	if in.Basis != "" {
		return in.Basis
	}
	return in.Purpose.DefaultBasis()
}

type SettleInput struct {
	QuoteInput
	// Reference is the folio, table or booking number the payment belongs to.
	Reference string
	Tender    settlement.Tender
}

// Receipt is the outcome of a successful settlement.
type Receipt struct {
	Reference    string            `json:"reference"`
	Purpose      Purpose           `json:"purpose"`
	Bill         pricing.Bill      `json:"bill"`
	Settlement   settlement.Result `json:"settlement"`
	Transactions []txn.Transaction `json:"transactions"`
	SettledAt    time.Time         `json:"settledAt"`
}

type Service struct {
	Rules    TaxRuleSource
	Vouchers *voucher.Ledger
	Unit     UnitOfWork
	Bus      *events.Bus
	// Locker serialises checkouts of the same voucher code. Nil skips locking.
	Locker  *lock.Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Quote composes the bill without touching any state.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (pricing.Bill, error) {
	if s == nil || s.Rules == nil {
		return pricing.Bill{}, errors.New("checkout service not configured")
	}
	purpose, err := ParsePurpose(string(in.Purpose))
	if err != nil {
		return pricing.Bill{}, err
	}
	in.Purpose = purpose
	basis := in.basis()
	rules, err := s.Rules.Active(ctx)
	if err != nil {
		return pricing.Bill{}, fmt.Errorf("load tax rules: %w", err)
	}
	var v *voucher.Voucher
	if code := strings.TrimSpace(in.VoucherCode); code != "" {
		if s.Vouchers == nil {
			return pricing.Bill{}, errors.New("voucher ledger not configured")
		}
		resolved, err := s.Vouchers.Resolve(ctx, code)
		if err != nil {
			obs.CountBill(string(basis), "voucher_rejected")
			return pricing.Bill{}, err
		}
		v = &resolved
	}
	bill, err := pricing.ComposeBill(in.Items, rules, v, basis)
	if err != nil {
		obs.CountBill(string(basis), "error")
		return pricing.Bill{}, err
	}
	obs.CountBill(string(basis), "ok")
	return bill, nil
}

// Settle re-validates the voucher, composes the bill, reconciles the tender and
// records the payment. Transactions and the voucher redemption commit together;
// a redemption lost to a concurrent checkout rolls everything back.
func (s *Service) Settle(ctx context.Context, in SettleInput) (Receipt, error) {
	if s == nil || s.Unit == nil {
		return Receipt{}, errors.New("checkout service not configured")
	}
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return Receipt{}, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}
	purpose, err := ParsePurpose(string(in.Purpose))
	if err != nil {
		return Receipt{}, err
	}
	in.Purpose = purpose
	code := voucher.NormalizeCode(in.VoucherCode)
	if code == "" || s.Locker == nil {
		return s.settle(ctx, in)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	var receipt Receipt
	err = s.Locker.WithLock(ctx, s.Locker.Key("checkout", "voucher", code), ttl, func(ctx context.Context) error {
		var err error
		receipt, err = s.settle(ctx, in)
		return err
	})
	return receipt, err
}

func (s *Service) settle(ctx context.Context, in SettleInput) (Receipt, error) {
	log := s.Logger.With().Str("reference", in.Reference).Str("purpose", string(in.Purpose)).Logger()

	bill, err := s.Quote(ctx, in.QuoteInput)
	if err != nil {
		return Receipt{}, err
	}
	result, err := settlement.Reconcile(bill.GrandTotal, in.Tender)
	if err != nil {
		obs.CountSettlement(string(in.Tender.Method), "invalid_tender")
		return Receipt{}, err
	}
	obs.CountSettlement(string(result.Method), string(result.Outcome.Kind))
	if !result.Exact() {
		s.reject(ctx, log, in, bill, result)
		return Receipt{}, result.Err()
	}

	receipt := Receipt{
		Reference:  in.Reference,
		Purpose:    in.Purpose,
		Bill:       bill,
		Settlement: result,
		SettledAt:  s.now(),
	}
	var recorded []events.Event
	err = s.Unit.Do(ctx, func(st Stores) error {
		receipt.Transactions = receipt.Transactions[:0]
		recorded = recorded[:0]
		record := func(topic string, payload any) error {
			if st.Events == nil {
				return nil
			}
			ev, err := s.Bus.Record(ctx, st.Events, topic, in.Reference, payload)
			if err != nil {
				return err
			}
			recorded = append(recorded, ev)
			return nil
		}
		for _, p := range settlement.Postings(result, in.Tender) {
			t, err := st.Transactions.Insert(ctx, txn.Transaction{
				Amount:        p.Amount,
				PaymentMethod: p.Method,
				Purpose:       string(in.Purpose),
				Reference:     in.Reference,
			})
			if err != nil {
				return fmt.Errorf("record transaction: %w", err)
			}
			receipt.Transactions = append(receipt.Transactions, t)
		}
		if bill.VoucherCode != "" {
			v, err := s.Vouchers.WithStore(st.Vouchers).Redeem(ctx, bill.VoucherCode, in.Reference)
			if err != nil {
				return err
			}
			if err := record(events.TopicVoucherRedeemed, map[string]any{
				"code":      v.Code,
				"reference": in.Reference,
				"discount":  bill.Discount,
			}); err != nil {
				return err
			}
		}
		return record(events.TopicBillSettled, receipt)
	})
	if err != nil {
		if reason, ok := voucher.ReasonOf(err); ok {
			log.Info().Str("voucher", bill.VoucherCode).Str("reason", string(reason)).Msg("checkout: voucher rejected at commit")
		} else {
			log.Error().Err(err).Msg("checkout: settlement not recorded")
		}
		return Receipt{}, err
	}

	if err := s.Bus.Dispatch(ctx, recorded...); err != nil {
		log.Warn().Err(err).Msg("checkout: event notifiers failed")
	}
	log.Info().
		Str("method", string(result.Method)).
		Str("grand_total", bill.GrandTotal.String()).
		Str("change", result.Change.String()).
		Msg("checkout: bill settled")
	return receipt, nil
}

// reject records a settlement.rejected event. It is best effort; the caller
// already has the mismatch to report.
func (s *Service) reject(ctx context.Context, log zerolog.Logger, in SettleInput, bill pricing.Bill, result settlement.Result) {
	if s.Bus == nil || s.Bus.Store == nil {
		return
	}
	_, err := s.Bus.Emit(ctx, events.TopicSettlementRejected, in.Reference, map[string]any{
		"purpose":    in.Purpose,
		"grandTotal": bill.GrandTotal,
		"settlement": result,
	})
	if err != nil {
		log.Warn().Err(err).Msg("checkout: rejected settlement event not recorded")
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
