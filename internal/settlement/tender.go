package settlement

import (
	"fmt"
	"strings"

	"github.com/noah-isme/hotel-billing/internal/money"
)

// Method is a tender instrument.
type Method string

const (
	Cash         Method = "cash"
	POS          Method = "pos"
	Fonepay      Method = "fonepay"
	CashFonepay  Method = "cash_fonepay"
	BankTransfer Method = "bank_transfer"
	Cheque       Method = "cheque"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case Cash, POS, Fonepay, CashFonepay, BankTransfer, Cheque:
		return true
	default:
		return false
	}
}

// IsSplit reports whether m combines two instruments.
func (m Method) IsSplit() bool { return m == CashFonepay }

// ParseMethod normalises user input into a Method.
func ParseMethod(value string) (Method, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", invalidTender("payment method is required")
	}
	m := Method(trimmed)
	if !m.Valid() {
		return "", invalidTender(fmt.Sprintf("unknown payment method %q", value))
	}
	return m, nil
}

// Tender is what the guest hands over. Amounts is keyed by instrument: the method itself
// for a single tender, or cash and fonepay for a split.
type Tender struct {
	Method  Method                 `json:"method"`
	Amounts map[Method]money.Money `json:"amounts,omitempty"`
}

// Single builds a one-instrument tender with an explicit amount.
func Single(m Method, amount money.Money) Tender {
	return Tender{Method: m, Amounts: map[Method]money.Money{m: amount}}
}

// Charge builds a non-cash tender that is charged exactly the bill total.
func Charge(m Method) Tender {
	return Tender{Method: m}
}

// Split builds a cash + fonepay tender.
func Split(cash, fonepay money.Money) Tender {
	return Tender{Method: CashFonepay, Amounts: map[Method]money.Money{Cash: cash, Fonepay: fonepay}}
}

func (t Tender) amount(m Method) (money.Money, bool) {
	v, ok := t.Amounts[m]
	return v, ok
}
