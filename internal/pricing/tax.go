package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/hotel-billing/internal/money"
)

// ErrInvalidTaxRule is returned for rules with a negative percentage.
var ErrInvalidTaxRule = errors.New("invalid tax rule")

// TaxType identifies a tax family. The cascade order is fixed by type.
type TaxType string

const (
	TaxVAT     TaxType = "vat"
	TaxService TaxType = "service_tax"
	TaxLuxury  TaxType = "luxury_tax"
	TaxOther   TaxType = "other"
)

const otherTaxLabel = "Other Tax"

// Rank returns the position of the type in the cascade. Unknown types sort with other.
func (t TaxType) Rank() int {
	switch t {
	case TaxVAT:
		return 0
	case TaxService:
		return 1
	case TaxLuxury:
		return 2
	default:
		return 999
	}
}

// Label returns the receipt label for the type.
func (t TaxType) Label() string {
	switch t {
	case TaxVAT:
		return "VAT"
	case TaxService:
		return "Service Tax"
	case TaxLuxury:
		return "Luxury Tax"
	default:
		return otherTaxLabel
	}
}

// ParseTaxType normalises user input into a TaxType.
func ParseTaxType(value string) (TaxType, error) {
	switch t := TaxType(strings.ToLower(strings.TrimSpace(value))); t {
	case TaxVAT, TaxService, TaxLuxury, TaxOther:
		return t, nil
	default:
		return "", fmt.Errorf("unknown tax type %q: %w", value, ErrInvalidTaxRule)
	}
}

// TaxRule is a percentage tax configured for the property.
type TaxRule struct {
	ID       uuid.UUID       `json:"id"`
	Type     TaxType         `json:"taxType"`
	Name     string          `json:"name,omitempty"`
	Percent  decimal.Decimal `json:"percent"`
	IsActive bool            `json:"isActive"`
}

func (r TaxRule) label() string {
	if r.Type.Rank() == TaxOther.Rank() {
		if name := strings.TrimSpace(r.Name); name != "" {
			return name
		}
	}
	return r.Type.Label()
}

// TaxLine is one computed tax on a bill.
type TaxLine struct {
	Label  string          `json:"-"`
	Type   TaxType         `json:"taxType"`
	Rate   decimal.Decimal `json:"rate"`
	Amount money.Money     `json:"amount"`
}

// TaxBreakdown lists tax lines in cascade order. It encodes as a JSON object keyed by label.
type TaxBreakdown []TaxLine

// Lookup returns the line with the given label.
func (b TaxBreakdown) Lookup(label string) (TaxLine, bool) {
	for _, line := range b {
		if line.Label == label {
			return line, true
		}
	}
	return TaxLine{}, false
}

// Total sums the line amounts.
func (b TaxBreakdown) Total() (money.Money, error) {
	amounts := make([]money.Money, len(b))
	for i, line := range b {
		amounts[i] = line.Amount
	}
	return money.Sum(amounts...)
}

// MarshalJSON writes the lines as an object whose keys keep cascade order.
func (b TaxBreakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, line := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(line.Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(line)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form back, preserving key order.
func (b *TaxBreakdown) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*b = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("tax breakdown: expected object")
	}
	out := TaxBreakdown{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := keyTok.(string)
		if !ok {
			return errors.New("tax breakdown: expected string key")
		}
		var line TaxLine
		if err := dec.Decode(&line); err != nil {
			return err
		}
		line.Label = label
		out = append(out, line)
	}
	*b = out
	return nil
}

// TaxResult is the outcome of a cascade run.
type TaxResult struct {
	Breakdown  TaxBreakdown
	TotalTax   money.Money
	FinalTotal money.Money
}

// CascadeOrder returns the active rules sorted by type rank; equal ranks keep input order.
func CascadeOrder(rules []TaxRule) []TaxRule {
	active := make([]TaxRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	slices.SortStableFunc(active, func(a, b TaxRule) int {
		return a.Type.Rank() - b.Type.Rank()
	})
	return active
}

// ApplyCascadingTaxes applies each active rule to the running total, which already
// includes the taxes applied before it. Every tax line and every running total is
// rounded to two places as it is produced.
func ApplyCascadingTaxes(base money.Money, rules []TaxRule) (TaxResult, error) {
	ordered := CascadeOrder(rules)
	result := TaxResult{Breakdown: make(TaxBreakdown, 0, len(ordered)), FinalTotal: base}
	seen := make(map[string]int, len(ordered))
	running := base
	for _, rule := range ordered {
		if rule.Percent.IsNegative() {
			return TaxResult{}, fmt.Errorf("%s at %s%%: %w", rule.label(), rule.Percent, ErrInvalidTaxRule)
		}
		amount, err := running.Percent(rule.Percent)
		if err != nil {
			return TaxResult{}, fmt.Errorf("%s: %w", rule.label(), err)
		}
		label := rule.label()
		seen[label]++
		if n := seen[label]; n > 1 {
			label = fmt.Sprintf("%s (%d)", label, n)
		}
		result.Breakdown = append(result.Breakdown, TaxLine{
			Label:  label,
			Type:   rule.Type,
			Rate:   rule.Percent,
			Amount: amount,
		})
		next, err := running.Add(amount)
		if err != nil {
			return TaxResult{}, fmt.Errorf("%s: %w", label, err)
		}
		running = next
	}
	result.TotalTax = running.Sub(base)
	result.FinalTotal = running
	return result, nil
}
