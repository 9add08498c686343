// Package money holds the dual-currency arithmetic used by invoices,
// loyalty, consignment and delivery accounting. Every amount is a
// decimal.Decimal; nothing here touches float64.
package money

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept on monetary amounts.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Pair is an amount expressed in USD and in the local currency.
type Pair struct {
	USD   decimal.Decimal `json:"usd"`
	Local decimal.Decimal `json:"local"`
}

func NewPair(usd, local decimal.Decimal) Pair {
	return Pair{USD: usd, Local: local}
}

func (p Pair) Add(o Pair) Pair {
	return Pair{USD: p.USD.Add(o.USD), Local: p.Local.Add(o.Local)}
}

func (p Pair) Sub(o Pair) Pair {
	return Pair{USD: p.USD.Sub(o.USD), Local: p.Local.Sub(o.Local)}
}

// Mul multiplies both currencies by the same factor.
func (p Pair) Mul(f decimal.Decimal) Pair {
	return Pair{USD: p.USD.Mul(f), Local: p.Local.Mul(f)}
}

func (p Pair) Round() Pair {
	return Pair{USD: p.USD.Round(Scale), Local: p.Local.Round(Scale)}
}

func (p Pair) IsZero() bool {
	return p.USD.IsZero() && p.Local.IsZero()
}

// Floor clamps negative components to zero.
func (p Pair) Floor() Pair {
	out := p
	if out.USD.IsNegative() {
		out.USD = decimal.Zero
	}
	if out.Local.IsNegative() {
		out.Local = decimal.Zero
	}
	return out
}

// Percent returns p * pct / 100 for each currency, rounded.
func (p Pair) Percent(pct decimal.Decimal) Pair {
	return p.Mul(pct).Div(hundred).Round()
}

// Div divides both currencies by d. d must not be zero.
func (p Pair) Div(d decimal.Decimal) Pair {
	return Pair{USD: p.USD.Div(d), Local: p.Local.Div(d)}
}

// Line is the computed result for one invoice line.
type Line struct {
	Subtotal Pair `json:"subtotal"`
	Tax      Pair `json:"tax"`
	Total    Pair `json:"total"`
}

// LineTotals computes subtotal, tax and total for qty units at unit price.
// Tax is computed separately per currency from that currency's subtotal so
// exchange-rate drift never compounds into the local tax figure.
func LineTotals(unit Pair, qty int, taxRate decimal.Decimal, exempt bool) Line {
	q := decimal.NewFromInt(int64(qty))
	subtotal := unit.Mul(q).Round()

	tax := Pair{USD: decimal.Zero, Local: decimal.Zero}
	if !exempt && taxRate.IsPositive() {
		tax = subtotal.Mul(taxRate).Round()
	}

	return Line{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

func SumLines(lines []Line) Line {
	var out Line
	out.Subtotal = Pair{USD: decimal.Zero, Local: decimal.Zero}
	out.Tax = out.Subtotal
	out.Total = out.Subtotal
	for _, line := range lines {
		out.Subtotal = out.Subtotal.Add(line.Subtotal)
		out.Tax = out.Tax.Add(line.Tax)
		out.Total = out.Total.Add(line.Total)
	}
	return out
}

// Convert derives a local amount from a USD amount at rate.
// Only used to fill a missing local unit price, never for tax.
func Convert(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate).Round(Scale)
}

// ToUSD expresses a local amount in USD at rate. A non-positive rate yields zero.
func ToUSD(local, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return local.DivRound(rate, 4)
}
