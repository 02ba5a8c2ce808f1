package checkout_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/hotel-billing/internal/checkout"
	"github.com/noah-isme/hotel-billing/internal/events"
	"github.com/noah-isme/hotel-billing/internal/money"
	"github.com/noah-isme/hotel-billing/internal/pricing"
	"github.com/noah-isme/hotel-billing/internal/txn"
	"github.com/noah-isme/hotel-billing/internal/voucher"
)

type staticRules []pricing.TaxRule

func (r staticRules) Active(context.Context) ([]pricing.TaxRule, error) { return r, nil }

func standardRules() staticRules {
	return staticRules{
		{ID: uuid.New(), Type: pricing.TaxService, Percent: decimal.NewFromInt(10), IsActive: true},
		{ID: uuid.New(), Type: pricing.TaxVAT, Percent: decimal.NewFromInt(13), IsActive: true},
	}
}

type voucherStore struct {
	mu     sync.Mutex
	byCode map[string]voucher.Voucher
	// loseRace makes MarkRedeemed report that another caller got there first.
	loseRace bool
}

func newVoucherStore(vs ...voucher.Voucher) *voucherStore {
	s := &voucherStore{byCode: map[string]voucher.Voucher{}}
	for _, v := range vs {
		v.ID = uuid.New()
		s.byCode[voucher.NormalizeCode(v.Code)] = v
	}
	return s
}

func (s *voucherStore) FindByCode(_ context.Context, code string) (voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byCode[voucher.NormalizeCode(code)]
	if !ok {
		return voucher.Voucher{}, voucher.ErrNotFound
	}
	return v, nil
}

func (s *voucherStore) Insert(_ context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = uuid.New()
	s.byCode[v.Code] = v
	return v, nil
}

func (s *voucherStore) MarkRedeemed(_ context.Context, id uuid.UUID, ref string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loseRace {
		return false, nil
	}
	for code, v := range s.byCode {
		if v.ID != id || v.Redeemed {
			continue
		}
		v.Redeemed = true
		v.RedeemedAt = &at
		v.RedemptionRef = ref
		s.byCode[code] = v
		return true, nil
	}
	return false, nil
}

func (s *voucherStore) List(context.Context, int, int) ([]voucher.Voucher, error) { return nil, nil }

func (s *voucherStore) snapshot() map[string]voucher.Voucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]voucher.Voucher, len(s.byCode))
	for k, v := range s.byCode {
		out[k] = v
	}
	return out
}

func (s *voucherStore) restore(m map[string]voucher.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCode = m
}

type txnStore struct {
	rows []txn.Transaction
}

func (s *txnStore) Insert(_ context.Context, t txn.Transaction) (txn.Transaction, error) {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	s.rows = append(s.rows, t)
	return t, nil
}

func (s *txnStore) ListByReference(_ context.Context, ref string) ([]txn.Transaction, error) {
	var out []txn.Transaction
	for _, t := range s.rows {
		if t.Reference == ref {
			out = append(out, t)
		}
	}
	return out, nil
}

type eventStore struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventStore) Insert(_ context.Context, ev events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = uuid.New()
	ev.OccurredAt = time.Now()
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *eventStore) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Topic)
	}
	return out
}

// memUnit serialises units of work and undoes every write of a failed one.
type memUnit struct {
	mu       sync.Mutex
	txns     *txnStore
	vouchers *voucherStore
	events   *eventStore
}

func (u *memUnit) Do(_ context.Context, fn func(checkout.Stores) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	txnCount := len(u.txns.rows)
	u.events.mu.Lock()
	eventCount := len(u.events.events)
	u.events.mu.Unlock()
	vouchers := u.vouchers.snapshot()

	err := fn(checkout.Stores{Transactions: u.txns, Vouchers: u.vouchers, Events: u.events})
	if err != nil {
		u.txns.rows = u.txns.rows[:txnCount]
		u.events.mu.Lock()
		u.events.events = u.events.events[:eventCount]
		u.events.mu.Unlock()
		u.vouchers.restore(vouchers)
	}
	return err
}

type captureNotifier struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, ev.Topic)
	return nil
}

type fixture struct {
	svc      *checkout.Service
	unit     *memUnit
	vouchers *voucherStore
	events   *eventStore
	notified *captureNotifier
}

func newFixture(vs ...voucher.Voucher) *fixture {
	vouchers := newVoucherStore(vs...)
	evStore := &eventStore{}
	unit := &memUnit{txns: &txnStore{}, vouchers: vouchers, events: evStore}
	notified := &captureNotifier{}
	svc := &checkout.Service{
		Rules:    standardRules(),
		Vouchers: &voucher.Ledger{Store: vouchers},
		Unit:     unit,
		Bus:      &events.Bus{Store: evStore, Notifiers: []events.Notifier{notified}},
		Logger:   zerolog.Nop(),
	}
	return &fixture{svc: svc, unit: unit, vouchers: vouchers, events: evStore, notified: notified}
}

func roomNight() []pricing.LineItem {
	return []pricing.LineItem{{Description: "Deluxe room", UnitPrice: money.MustParse("1000.00"), Quantity: 1}}
}

func fixedVoucher(code string, amount int64) voucher.Voucher {
	return voucher.Voucher{Code: code, DiscountType: voucher.Fixed, DiscountAmount: decimal.NewFromInt(amount), IsActive: true}
}
