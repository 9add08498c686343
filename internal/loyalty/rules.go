// Package loyalty accrues and redeems patient points. Balances only move
// through ledger entries, so points_balance = points_earned - points_redeemed
// holds after every operation and the ledger alone can rebuild it.
package loyalty

import (
	"slices"

	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/money"
)

var hundred = decimal.NewFromInt(100)

// IsProductEligible applies the program's product, category and
// prescription filters. A program with no product or category list
// accepts every product.
func IsProductEligible(program domain.LoyaltyProgram, product domain.Product) bool {
	listed := len(program.EligibleProductIDs) == 0 && len(program.EligibleCategories) == 0 ||
		slices.Contains(program.EligibleProductIDs, product.ID) ||
		slices.Contains(program.EligibleCategories, product.Category)
	if !listed {
		return false
	}
	if program.RequiresPrescription && !product.RequiresPrescription {
		return false
	}
	return true
}

// EligibleSubtotal sums the subtotals of invoice items whose product is
// eligible. Items with no entry in products are skipped.
func EligibleSubtotal(program domain.LoyaltyProgram, inv domain.Invoice, products map[string]domain.Product) money.Pair {
	sum := money.NewPair(decimal.Zero, decimal.Zero)
	for _, item := range inv.Items {
		p, ok := products[item.ProductID]
		if !ok || !IsProductEligible(program, p) {
			continue
		}
		sum = sum.Add(money.NewPair(item.SubtotalUSD, item.SubtotalLocal))
	}
	return sum
}

// CalculatePointsEarned floors eligible USD subtotal times the accrual rate.
// Purchases under the program minimum earn nothing.
func CalculatePointsEarned(program domain.LoyaltyProgram, inv domain.Invoice, products map[string]domain.Product) int64 {
	eligible := EligibleSubtotal(program, inv, products)
	if eligible.USD.LessThan(program.MinPurchaseUSD) {
		return 0
	}
	if program.MinPurchaseLocal.IsPositive() && eligible.Local.LessThan(program.MinPurchaseLocal) {
		return 0
	}
	points := eligible.USD.Mul(program.PointsPerCurrency).Floor()
	if points.IsNegative() {
		return 0
	}
	return points.IntPart()
}

// CalculateMaxRedeemablePoints caps a redemption at MaxRedemptionPercent of
// the invoice total. The cap is worked out in each currency and the smaller
// one wins. A currency with no point value does not constrain the cap.
func CalculateMaxRedeemablePoints(total money.Pair, program domain.LoyaltyProgram) int64 {
	maxDiscount := total.Mul(program.MaxRedemptionPercent).Div(hundred)

	caps := make([]int64, 0, 2)
	if program.PointValueUSD.IsPositive() {
		caps = append(caps, maxDiscount.USD.Div(program.PointValueUSD).Floor().IntPart())
	}
	if program.PointValueLocal.IsPositive() {
		caps = append(caps, maxDiscount.Local.Div(program.PointValueLocal).Floor().IntPart())
	}
	if len(caps) == 0 {
		return 0
	}
	return max(slices.Min(caps), 0)
}

// DiscountFor is the currency value of points.
func DiscountFor(points int64, program domain.LoyaltyProgram) money.Pair {
	p := decimal.NewFromInt(points)
	return money.NewPair(p.Mul(program.PointValueUSD), p.Mul(program.PointValueLocal)).Round()
}

// Totals is a balance rebuilt from ledger entries.
type Totals struct {
	Balance  int64 `json:"balance"`
	Earned   int64 `json:"earned"`
	Redeemed int64 `json:"redeemed"`
}

// Replay rebuilds balances from entries in order. ok is false when an
// entry's recorded balance_after disagrees with the running balance.
func Replay(entries []domain.LoyaltyTransaction) (t Totals, ok bool) {
	ok = true
	for _, e := range entries {
		if e.Points >= 0 {
			t.Earned += e.Points
		} else {
			t.Redeemed -= e.Points
		}
		t.Balance += e.Points
		if e.BalanceAfter != t.Balance {
			ok = false
		}
	}
	return t, ok
}
