// Package settlement matches tendered payments against a bill total.
package settlement

import (
	"fmt"

	"github.com/noah-isme/hotel-billing/internal/money"
)

// Tolerance is the inclusive allowance for split tenders.
const Tolerance = money.Money(1)

// OutcomeKind classifies a reconciliation.
type OutcomeKind string

const (
	OutcomeExact   OutcomeKind = "exact"
	OutcomeShort   OutcomeKind = "short"
	OutcomeOver    OutcomeKind = "over"
	OutcomeInvalid OutcomeKind = "invalid"
)

const nonCashMismatch = "non-cash amount must equal the bill total"

// Outcome is exact, short(by), over(by) or invalid(reason).
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	By     money.Money `json:"by,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Result is the reconciliation of one tender against one total.
type Result struct {
	Method        Method      `json:"method"`
	GrandTotal    money.Money `json:"grandTotal"`
	TotalReceived money.Money `json:"totalReceived"`
	Outcome       Outcome     `json:"outcome"`
	Change        money.Money `json:"change"`
}

// Exact reports whether the tender settles the bill.
func (r Result) Exact() bool { return r.Outcome.Kind == OutcomeExact }

// Err returns a *MismatchError unless the outcome is exact.
func (r Result) Err() error {
	if r.Exact() {
		return nil
	}
	return &MismatchError{Outcome: r.Outcome}
}

// Reconcile compares the tender with grandTotal. Structural problems return an
// *InvalidTenderError; amount disagreements are reported in the Result outcome.
func Reconcile(grandTotal money.Money, tender Tender) (Result, error) {
	if grandTotal.IsNegative() {
		return Result{}, invalidTender(fmt.Sprintf("grand total %s must not be negative", grandTotal))
	}
	if tender.Method == "" {
		return Result{}, invalidTender("payment method is required")
	}
	if !tender.Method.Valid() {
		return Result{}, invalidTender(fmt.Sprintf("unknown payment method %q", tender.Method))
	}
	for m, amount := range tender.Amounts {
		if amount.IsNegative() {
			return Result{}, invalidTender(fmt.Sprintf("%s amount must not be negative", m))
		}
	}
	if tender.Method.IsSplit() {
		return reconcileSplit(grandTotal, tender)
	}
	return reconcileSingle(grandTotal, tender)
}

func reconcileSingle(total money.Money, tender Tender) (Result, error) {
	for m := range tender.Amounts {
		if m != tender.Method {
			return Result{}, invalidTender(fmt.Sprintf("unexpected %s amount for %s tender", m, tender.Method))
		}
	}
	res := Result{Method: tender.Method, GrandTotal: total}
	received, given := tender.amount(tender.Method)

	if tender.Method == Cash {
		if !given {
			return Result{}, invalidTender("cash amount is required")
		}
		res.TotalReceived = received
		if received < total {
			res.Outcome = Outcome{Kind: OutcomeShort, By: total.Sub(received)}
			return res, nil
		}
		res.Outcome = Outcome{Kind: OutcomeExact}
		res.Change = received.Sub(total)
		return res, nil
	}

	if !given {
		received = total
	}
	res.TotalReceived = received
	if received != total {
		res.Outcome = Outcome{Kind: OutcomeInvalid, By: received.Sub(total).Abs(), Reason: nonCashMismatch}
		return res, nil
	}
	res.Outcome = Outcome{Kind: OutcomeExact}
	return res, nil
}

func reconcileSplit(total money.Money, tender Tender) (Result, error) {
	for m := range tender.Amounts {
		if m != Cash && m != Fonepay {
			return Result{}, invalidTender(fmt.Sprintf("unexpected %s amount for %s tender", m, tender.Method))
		}
	}
	cash, _ := tender.amount(Cash)
	wallet, _ := tender.amount(Fonepay)
	if !cash.IsPositive() || !wallet.IsPositive() {
		return Result{}, invalidTender("split tender requires positive cash and fonepay amounts")
	}
	received, err := cash.Add(wallet)
	if err != nil {
		return Result{}, invalidTender("split amounts are too large")
	}
	res := Result{Method: tender.Method, GrandTotal: total, TotalReceived: received}
	diff := res.TotalReceived.Sub(total)
	switch {
	case diff.Abs() <= Tolerance:
		res.Outcome = Outcome{Kind: OutcomeExact}
	case diff.IsNegative():
		res.Outcome = Outcome{Kind: OutcomeShort, By: diff.Abs()}
	default:
		res.Outcome = Outcome{Kind: OutcomeOver, By: diff}
	}
	return res, nil
}
