package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLineTotals(t *testing.T) {
	tests := []struct {
		name     string
		unit     Pair
		qty      int
		rate     string
		exempt   bool
		subtotal Pair
		tax      Pair
		total    Pair
	}{
		{
			name:     "taxed line",
			unit:     NewPair(d("2.50"), d("91.25")),
			qty:      3,
			rate:     "0.16",
			subtotal: NewPair(d("7.50"), d("273.75")),
			tax:      NewPair(d("1.20"), d("43.80")),
			total:    NewPair(d("8.70"), d("317.55")),
		},
		{
			name:     "exempt line has zero tax",
			unit:     NewPair(d("4.00"), d("146.00")),
			qty:      2,
			rate:     "0.16",
			exempt:   true,
			subtotal: NewPair(d("8.00"), d("292.00")),
			tax:      NewPair(d("0"), d("0")),
			total:    NewPair(d("8.00"), d("292.00")),
		},
		{
			name:     "tax rounds half away from zero per currency",
			unit:     NewPair(d("0.35"), d("12.7777")),
			qty:      1,
			rate:     "0.15",
			subtotal: NewPair(d("0.35"), d("12.78")),
			tax:      NewPair(d("0.05"), d("1.92")),
			total:    NewPair(d("0.40"), d("14.70")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LineTotals(tt.unit, tt.qty, d(tt.rate), tt.exempt)
			assertPair(t, "subtotal", got.Subtotal, tt.subtotal)
			assertPair(t, "tax", got.Tax, tt.tax)
			assertPair(t, "total", got.Total, tt.total)
		})
	}
}

func TestLineTotalsCurrenciesAreIndependent(t *testing.T) {
	// The local price is not unit USD times any rate; tax must follow each
	// currency's own subtotal.
	got := LineTotals(NewPair(d("1.00"), d("50.00")), 10, d("0.16"), false)
	assertPair(t, "tax", got.Tax, NewPair(d("1.60"), d("80.00")))
}

func TestSumLines(t *testing.T) {
	lines := []Line{
		LineTotals(NewPair(d("1.10"), d("40.15")), 2, d("0.16"), false),
		LineTotals(NewPair(d("3.00"), d("109.50")), 1, d("0.16"), true),
	}
	sum := SumLines(lines)
	assertPair(t, "subtotal", sum.Subtotal, NewPair(d("5.20"), d("189.80")))
	assertPair(t, "tax", sum.Tax, NewPair(d("0.35"), d("12.85")))
	assertPair(t, "total", sum.Total, NewPair(d("5.55"), d("202.65")))

	empty := SumLines(nil)
	if !empty.Total.IsZero() {
		t.Fatalf("expected zero total for no lines, got %+v", empty.Total)
	}
}

func TestPercentAndConvert(t *testing.T) {
	got := NewPair(d("200.00"), d("7300.00")).Percent(d("12.5"))
	assertPair(t, "percent", got, NewPair(d("25.00"), d("912.50")))

	if c := Convert(d("2.35"), d("36.5")); !c.Equal(d("85.78")) {
		t.Errorf("Convert = %s, want 85.78", c)
	}
	if u := ToUSD(d("73"), d("36.5")); !u.Equal(d("2")) {
		t.Errorf("ToUSD = %s, want 2", u)
	}
	if u := ToUSD(d("73"), decimal.Zero); !u.IsZero() {
		t.Errorf("ToUSD with zero rate = %s, want 0", u)
	}
}

func assertPair(t *testing.T, label string, got, want Pair) {
	t.Helper()
	if !got.USD.Equal(want.USD) || !got.Local.Equal(want.Local) {
		t.Errorf("%s = (%s, %s), want (%s, %s)", label, got.USD, got.Local, want.USD, want.Local)
	}
}
