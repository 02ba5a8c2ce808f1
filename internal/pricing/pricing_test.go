package pricing

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hotel-billing/internal/money"
	"github.com/noah-isme/hotel-billing/internal/voucher"
)

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func rule(t TaxType, p string) TaxRule {
	return TaxRule{Type: t, Percent: pct(p), IsActive: true}
}

func TestAggregateRoundsPerLine(t *testing.T) {
	items := []LineItem{
		{UnitPrice: money.MustParse("12.50"), Quantity: 3},
		{UnitPrice: money.MustParse("99.99"), Quantity: 0},
		{UnitPrice: money.MustParse("0.33"), Quantity: 7},
	}
	total, err := Aggregate(items)
	require.NoError(t, err)
	require.Equal(t, "39.81", total.String())

	empty, err := Aggregate(nil)
	require.NoError(t, err)
	require.Equal(t, "0.00", empty.String())
}

func TestAggregateRejectsNegativeQuantity(t *testing.T) {
	total, err := Aggregate([]LineItem{{UnitPrice: money.FromMajor(10), Quantity: -1}})
	require.ErrorIs(t, err, ErrInvalidLineItem)
	require.True(t, total.IsZero())

	_, err = Aggregate([]LineItem{{UnitPrice: money.FromMajor(-10), Quantity: 1}})
	require.ErrorIs(t, err, ErrInvalidLineItem)
}

func TestAggregateRejectsOverflow(t *testing.T) {
	total, err := Aggregate([]LineItem{{UnitPrice: money.MustParse("100.00"), Quantity: 1_000_000_000_000_000}})
	require.ErrorIs(t, err, ErrInvalidLineItem)
	require.ErrorIs(t, err, money.ErrOutOfRange)
	require.True(t, total.IsZero())

	big := money.MustParse("50000000000000000.00")
	_, err = Aggregate([]LineItem{{UnitPrice: big, Quantity: 1}, {UnitPrice: big, Quantity: 1}})
	require.ErrorIs(t, err, ErrInvalidLineItem)
	require.ErrorIs(t, err, money.ErrOutOfRange)
}

func TestComposeBillRejectsOverflowingTotal(t *testing.T) {
	items := []LineItem{{UnitPrice: money.MustParse("100.00"), Quantity: 1_000_000_000_000_000}}
	_, err := ComposeBill(items, nil, nil, PreTax)
	require.ErrorIs(t, err, ErrInvalidLineItem)

	// the subtotal fits, the taxed total does not
	items = []LineItem{{UnitPrice: money.MustParse("90000000000000000.00"), Quantity: 1}}
	for _, basis := range []DiscountBasis{PreTax, PostTax} {
		bill, err := ComposeBill(items, []TaxRule{rule(TaxVAT, "13")}, nil, basis)
		require.ErrorIs(t, err, ErrInvalidLineItem, "basis %s", basis)
		require.ErrorIs(t, err, money.ErrOutOfRange, "basis %s", basis)
		require.True(t, bill.GrandTotal.IsZero())
	}
}

func TestCascadeRoundsEveryStep(t *testing.T) {
	// 0.05 -> VAT 0.005 rounds to 0.01 -> 0.06 -> service 0.006 rounds to 0.01 -> 0.07.
	// Rounding once at the end would give round2(0.05 * 1.1 * 1.1) = round2(0.0605) = 0.06.
	res, err := ApplyCascadingTaxes(money.MustParse("0.05"), []TaxRule{rule(TaxVAT, "10"), rule(TaxService, "10")})
	require.NoError(t, err)
	require.Equal(t, "0.01", res.Breakdown[0].Amount.String())
	require.Equal(t, "0.01", res.Breakdown[1].Amount.String())
	require.Equal(t, "0.02", res.TotalTax.String())
	require.Equal(t, "0.07", res.FinalTotal.String())

	once := money.Round2(decimal.RequireFromString("0.05").Mul(pct("1.1")).Mul(pct("1.1")))
	require.Equal(t, "0.06", once.StringFixed(2))
}

func TestComposeBillRoundsPercentageDiscountHalfCent(t *testing.T) {
	// 10% of 0.25 is 0.025, rounded to 0.03 before it is subtracted; rounding once
	// at the end would give round2(0.225) = 0.23.
	items := []LineItem{{UnitPrice: money.MustParse("0.25"), Quantity: 1}}
	v := &voucher.Voucher{Code: "TEN", DiscountType: voucher.Percentage, DiscountAmount: pct("10"), IsActive: true}
	bill, err := ComposeBill(items, nil, v, PreTax)
	require.NoError(t, err)
	require.Equal(t, "0.03", bill.Discount.String())
	require.Equal(t, "0.22", bill.DiscountedSubtotal.String())
	require.Equal(t, "0.22", bill.GrandTotal.String())
}

func TestCascadeOnRoundBase(t *testing.T) {
	res, err := ApplyCascadingTaxes(money.MustParse("1000.00"), []TaxRule{rule(TaxVAT, "13"), rule(TaxService, "10")})
	require.NoError(t, err)
	vat, ok := res.Breakdown.Lookup("VAT")
	require.True(t, ok)
	require.Equal(t, "130.00", vat.Amount.String())
	svc, ok := res.Breakdown.Lookup("Service Tax")
	require.True(t, ok)
	require.Equal(t, "113.00", svc.Amount.String())
	require.Equal(t, "243.00", res.TotalTax.String())
	require.Equal(t, "1243.00", res.FinalTotal.String())
}

func TestCascadeDivergesFromFlat(t *testing.T) {
	base := money.MustParse("333.33")
	res, err := ApplyCascadingTaxes(base, []TaxRule{rule(TaxService, "10"), rule(TaxVAT, "13")})
	require.NoError(t, err)
	require.Equal(t, "VAT", res.Breakdown[0].Label)
	require.Equal(t, "43.33", res.Breakdown[0].Amount.String())
	require.Equal(t, "37.67", res.Breakdown[1].Amount.String())
	require.Equal(t, "414.33", res.FinalTotal.String())

	vat, err := base.Percent(pct("13"))
	require.NoError(t, err)
	svc, err := base.Percent(pct("10"))
	require.NoError(t, err)
	flat, err := money.Sum(base, vat, svc)
	require.NoError(t, err)
	require.Equal(t, "409.99", flat.String())
	require.NotEqual(t, flat, res.FinalTotal)
}

func TestCascadeOrderIgnoresInputOrderAndInactive(t *testing.T) {
	rules := []TaxRule{
		{Type: TaxOther, Name: "Green Levy", Percent: pct("1"), IsActive: true},
		rule(TaxLuxury, "5"),
		{Type: TaxVAT, Percent: pct("50"), IsActive: false},
		rule(TaxVAT, "13"),
		{Type: "tourism", Percent: pct("2"), IsActive: true},
	}
	ordered := CascadeOrder(rules)
	require.Len(t, ordered, 4)
	require.Equal(t, TaxVAT, ordered[0].Type)
	require.Equal(t, TaxLuxury, ordered[1].Type)
	require.Equal(t, "Green Levy", ordered[2].Name)
	require.Equal(t, TaxType("tourism"), ordered[3].Type)

	res, err := ApplyCascadingTaxes(money.MustParse("100.00"), rules)
	require.NoError(t, err)
	labels := make([]string, 0, len(res.Breakdown))
	for _, line := range res.Breakdown {
		labels = append(labels, line.Label)
	}
	require.Equal(t, []string{"VAT", "Luxury Tax", "Green Levy", "Other Tax"}, labels)
	require.Equal(t, res.FinalTotal.Sub(money.MustParse("100.00")), res.TotalTax)
}

func TestCascadeDuplicateLabelsKeepTotalsConsistent(t *testing.T) {
	res, err := ApplyCascadingTaxes(money.MustParse("200.00"), []TaxRule{rule(TaxOther, "2"), rule(TaxOther, "3")})
	require.NoError(t, err)
	_, ok := res.Breakdown.Lookup("Other Tax (2)")
	require.True(t, ok)
	require.Equal(t, res.FinalTotal.Sub(money.MustParse("200.00")), res.TotalTax)
}

func TestCascadeRejectsNegativePercent(t *testing.T) {
	_, err := ApplyCascadingTaxes(money.FromMajor(100), []TaxRule{rule(TaxVAT, "-1")})
	require.ErrorIs(t, err, ErrInvalidTaxRule)
}

func TestCascadeNoRules(t *testing.T) {
	res, err := ApplyCascadingTaxes(money.MustParse("57.10"), nil)
	require.NoError(t, err)
	require.Empty(t, res.Breakdown)
	require.Equal(t, money.MustParse("57.10"), res.FinalTotal)
	require.True(t, res.TotalTax.IsZero())
}

func TestBreakdownJSONKeepsCascadeOrder(t *testing.T) {
	res, err := ApplyCascadingTaxes(money.MustParse("1000.00"), []TaxRule{rule(TaxService, "10"), rule(TaxVAT, "13")})
	require.NoError(t, err)
	out, err := json.Marshal(res.Breakdown)
	require.NoError(t, err)
	require.Equal(t, `{"VAT":{"taxType":"vat","rate":"13","amount":"130.00"},"Service Tax":{"taxType":"service_tax","rate":"10","amount":"113.00"}}`, string(out))

	var back TaxBreakdown
	require.NoError(t, json.Unmarshal(out, &back))
	require.Equal(t, "VAT", back[0].Label)
	require.Equal(t, "Service Tax", back[1].Label)
	want, err := res.Breakdown.Total()
	require.NoError(t, err)
	got, err := back.Total()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, res.TotalTax, got)
}

func TestComposeBillRequiresBasis(t *testing.T) {
	_, err := ComposeBill(nil, nil, nil, "")
	require.ErrorIs(t, err, ErrDiscountBasis)

	_, err = ParseDiscountBasis("after_tax")
	require.ErrorIs(t, err, ErrDiscountBasis)
	b, err := ParseDiscountBasis(" PRE_TAX ")
	require.NoError(t, err)
	require.Equal(t, PreTax, b)
}

func TestComposeBillZeroTaxNoVoucher(t *testing.T) {
	itemSets := [][]LineItem{
		nil,
		{{UnitPrice: money.MustParse("0.01"), Quantity: 1}},
		{{UnitPrice: money.MustParse("1499.99"), Quantity: 2}, {UnitPrice: money.MustParse("3.35"), Quantity: 9}},
	}
	inactive := []TaxRule{{Type: TaxVAT, Percent: pct("13"), IsActive: false}}
	for _, items := range itemSets {
		for _, basis := range []DiscountBasis{PreTax, PostTax} {
			bill, err := ComposeBill(items, inactive, nil, basis)
			require.NoError(t, err)
			require.Equal(t, bill.Subtotal, bill.GrandTotal)
			require.True(t, bill.Discount.IsZero())
			require.Empty(t, bill.TaxBreakdown)
		}
	}
}

func TestComposeBillBasisChangesFixedDiscountTotals(t *testing.T) {
	items := []LineItem{{UnitPrice: money.MustParse("500.00"), Quantity: 2}}
	rules := []TaxRule{rule(TaxVAT, "13"), rule(TaxService, "10")}
	v := &voucher.Voucher{Code: "flat100", DiscountType: voucher.Fixed, DiscountAmount: pct("100"), IsActive: true}

	pre, err := ComposeBill(items, rules, v, PreTax)
	require.NoError(t, err)
	require.Equal(t, "1000.00", pre.Subtotal.String())
	require.Equal(t, "100.00", pre.Discount.String())
	require.Equal(t, "900.00", pre.DiscountedSubtotal.String())
	require.Equal(t, "1118.70", pre.GrandTotal.String())
	require.Equal(t, "FLAT100", pre.VoucherCode)

	post, err := ComposeBill(items, rules, v, PostTax)
	require.NoError(t, err)
	require.Equal(t, "1000.00", post.DiscountedSubtotal.String())
	require.Equal(t, "243.00", post.TotalTax.String())
	require.Equal(t, "1143.00", post.GrandTotal.String())
}

func TestComposeBillPercentageConvergesAcrossBases(t *testing.T) {
	items := []LineItem{{UnitPrice: money.MustParse("1000.00"), Quantity: 1}}
	rules := []TaxRule{rule(TaxVAT, "13"), rule(TaxService, "10")}
	v := &voucher.Voucher{Code: "TEN", DiscountType: voucher.Percentage, DiscountAmount: pct("10"), IsActive: true}

	pre, err := ComposeBill(items, rules, v, PreTax)
	require.NoError(t, err)
	post, err := ComposeBill(items, rules, v, PostTax)
	require.NoError(t, err)
	require.Equal(t, "1118.70", pre.GrandTotal.String())
	require.Equal(t, pre.GrandTotal, post.GrandTotal)
}

func TestComposeBillClampsDiscount(t *testing.T) {
	items := []LineItem{{UnitPrice: money.MustParse("300.00"), Quantity: 1}}
	v := &voucher.Voucher{Code: "BIG", DiscountType: voucher.Fixed, DiscountAmount: pct("500"), IsActive: true}
	bill, err := ComposeBill(items, []TaxRule{rule(TaxVAT, "13")}, v, PreTax)
	require.NoError(t, err)
	require.Equal(t, "300.00", bill.Discount.String())
	require.True(t, bill.GrandTotal.IsZero())
}

func TestComposeBillRejectsUnusableVoucher(t *testing.T) {
	items := []LineItem{{UnitPrice: money.FromMajor(100), Quantity: 1}}
	redeemed := &voucher.Voucher{Code: "R", DiscountType: voucher.Fixed, DiscountAmount: pct("10"), IsActive: true, Redeemed: true}
	_, err := ComposeBill(items, nil, redeemed, PreTax)
	require.ErrorIs(t, err, voucher.ErrAlreadyRedeemed)

	disabled := &voucher.Voucher{Code: "D", DiscountType: voucher.Fixed, DiscountAmount: pct("10")}
	_, err = ComposeBill(items, nil, disabled, PostTax)
	require.ErrorIs(t, err, voucher.ErrInactive)
}

func TestComposeBillPropagatesLineItemErrors(t *testing.T) {
	_, err := ComposeBill([]LineItem{{UnitPrice: money.FromMajor(10), Quantity: -1}}, nil, nil, PreTax)
	require.ErrorIs(t, err, ErrInvalidLineItem)
}
