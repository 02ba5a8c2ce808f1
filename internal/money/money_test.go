package money_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hotel-billing/internal/money"
)

func TestRound2HalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"0.005":   "0.01",
		"-0.005":  "-0.01",
		"1.004":   "1.00",
		"2.675":   "2.68",
		"333.325": "333.33",
		"10":      "10.00",
	}
	for in, want := range cases {
		got := money.Round2(decimal.RequireFromString(in)).StringFixed(2)
		require.Equal(t, want, got, "round2(%s)", in)
	}
}

func TestParseRoundsToMinorUnits(t *testing.T) {
	m, err := money.Parse("600.005")
	require.NoError(t, err)
	require.Equal(t, int64(60001), m.Minor())
	require.Equal(t, "600.01", m.String())

	_, err = money.Parse("abc")
	require.ErrorIs(t, err, money.ErrInvalidAmount)
	_, err = money.Parse("  ")
	require.ErrorIs(t, err, money.ErrInvalidAmount)
}

func percent(t *testing.T, m money.Money, pct string) string {
	t.Helper()
	out, err := m.Percent(decimal.RequireFromString(pct))
	require.NoError(t, err)
	return out.String()
}

func TestPercent(t *testing.T) {
	require.Equal(t, "43.33", percent(t, money.MustParse("333.33"), "13"))
	require.Equal(t, "0.00", percent(t, money.Zero, "13"))
	require.Equal(t, "113.00", percent(t, money.MustParse("1130.00"), "10"))
	// 12.5% of 0.20 is 0.025, rounded half away from zero
	require.Equal(t, "0.03", percent(t, money.MustParse("0.20"), "12.5"))
}

func TestMulQty(t *testing.T) {
	out, err := money.MustParse("12.50").MulQty(3)
	require.NoError(t, err)
	require.Equal(t, "37.50", out.String())
	out, err = money.MustParse("12.50").MulQty(0)
	require.NoError(t, err)
	require.Equal(t, "0.00", out.String())
}

func TestArithmeticRejectsOverflow(t *testing.T) {
	_, err := money.MustParse("100.00").MulQty(1_000_000_000_000_000)
	require.ErrorIs(t, err, money.ErrOutOfRange)

	big := money.MustParse("50000000000000000.00")
	_, err = big.Add(big)
	require.ErrorIs(t, err, money.ErrOutOfRange)
	_, err = money.Sum(big, big)
	require.ErrorIs(t, err, money.ErrOutOfRange)

	_, err = money.FromMinor(math.MaxInt64).Percent(decimal.NewFromInt(200))
	require.ErrorIs(t, err, money.ErrOutOfRange)

	_, err = money.Parse("92233720368547758.08")
	require.ErrorIs(t, err, money.ErrOutOfRange)
	m, err := money.Parse("92233720368547758.07")
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), m.Minor())

	sum, err := money.FromMinor(math.MaxInt64 - 1).Add(money.FromMinor(1))
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), sum.Minor())
}

func TestJSON(t *testing.T) {
	var payload struct {
		A money.Money `json:"a"`
		B money.Money `json:"b"`
		C money.Money `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.345","b":0.1,"c":null}`), &payload))
	require.Equal(t, int64(1235), payload.A.Minor())
	require.Equal(t, int64(10), payload.B.Minor())
	require.True(t, payload.C.IsZero())

	out, err := json.Marshal(money.FromMinor(124300))
	require.NoError(t, err)
	require.JSONEq(t, `"1243.00"`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"a":"1,000"}`), &payload))
}

func TestScan(t *testing.T) {
	var m money.Money
	require.NoError(t, m.Scan(int64(2500)))
	require.Equal(t, "25.00", m.String())
	require.NoError(t, m.Scan([]byte("99")))
	require.Equal(t, "0.99", m.String())
	require.Error(t, m.Scan(1.5))
}

func TestMinAbs(t *testing.T) {
	require.Equal(t, money.FromMajor(300), money.Min(money.FromMajor(500), money.FromMajor(300)))
	require.Equal(t, money.FromMajor(5), money.FromMajor(-5).Abs())
}
