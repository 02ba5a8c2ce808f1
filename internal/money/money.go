package money

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried by every Money value.
const Scale = 2

// ErrInvalidAmount is returned when a textual amount cannot be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// ErrOutOfRange is returned when a result does not fit in int64 minor units.
var ErrOutOfRange = errors.New("money: amount out of range")

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Money represents a monetary value stored in minor units (paisa).
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// FromDecimal rounds d to two places and converts it to minor units.
func FromDecimal(d decimal.Decimal) (Money, error) {
	rounded := Round2(d)
	minor := rounded.Shift(Scale)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return Zero, fmt.Errorf("%w: %s", ErrOutOfRange, rounded.String())
	}
	return Money(minor.IntPart()), nil
}

// FromMinor wraps a raw minor-unit count.
func FromMinor(minor int64) Money {
	return Money(minor)
}

// FromMajor converts whole currency units (e.g. rupees) to Money.
func FromMajor(units int64) Money {
	return Money(units * 100)
}

// Parse reads a decimal string such as "1243.50" and rounds it to two places.
func Parse(value string) (Money, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return FromDecimal(d)
}

// MustParse behaves like Parse but panics on error. Intended for tests and constants.
func MustParse(value string) Money {
	m, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return m
}

// Minor returns the amount in minor units.
func (m Money) Minor() int64 { return int64(m) }

// Decimal returns the exact decimal representation.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -Scale)
}

// String renders the amount with exactly two decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(Scale)
}

// Add returns m + other, or ErrOutOfRange when the sum overflows.
func (m Money) Add(other Money) (Money, error) {
	sum := m + other
	if (other > 0 && sum < m) || (other < 0 && sum > m) {
		return Zero, fmt.Errorf("%w: %s + %s", ErrOutOfRange, m, other)
	}
	return sum, nil
}

// Sub returns m - other. Callers subtract amounts of the same sign, which cannot overflow.
func (m Money) Sub(other Money) Money { return m - other }

// MulQty multiplies a two-place amount by an integer quantity. The product of a
// two-place value and an integer is already exact at two places.
func (m Money) MulQty(qty int64) (Money, error) {
	if m < 0 || qty < 0 {
		return FromDecimal(m.Decimal().Mul(decimal.NewFromInt(qty)))
	}
	hi, lo := bits.Mul64(uint64(m), uint64(qty))
	if hi != 0 || lo > math.MaxInt64 {
		return Zero, fmt.Errorf("%w: %s x %d", ErrOutOfRange, m, qty)
	}
	return Money(lo), nil
}

// Percent returns round2(m * pct / 100).
func (m Money) Percent(pct decimal.Decimal) (Money, error) {
	return FromDecimal(m.Decimal().Mul(pct).Div(hundred))
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m < 0 }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m > 0 }

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// Sum adds all values, failing on overflow.
func Sum(values ...Money) (Money, error) {
	var total Money
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return Zero, err
		}
		total = next
	}
	return total, nil
}

// MarshalJSON encodes the amount as a quoted two-place decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts either a JSON string ("12.50") or a JSON number (12.5).
// Numbers are parsed from their literal text so no binary float is involved.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*m = Zero
		return nil
	}
	text := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, text)
		}
		if strings.TrimSpace(unquoted) == "" {
			*m = Zero
			return nil
		}
		text = unquoted
	}
	parsed, err := Parse(text)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the amount as BIGINT minor units.
func (m Money) Value() (driver.Value, error) {
	return int64(m), nil
}

// Scan reads BIGINT minor units.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Zero
	case int64:
		*m = Money(v)
	case int32:
		*m = Money(v)
	case []byte:
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, v)
		}
		*m = Money(parsed)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, v)
		}
		*m = Money(parsed)
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
	return nil
}
