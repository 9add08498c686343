// Package consignment tracks supplier-owned stock sold on the supplier's
// behalf and what the pharmacy owes for it.
package consignment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/money"
)

var hundred = decimal.NewFromInt(100)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConsignmentOperation, fmt.Sprintf(format, args...))
}

// RecordSale adds up to qty sold units of productID, clamped to what is
// still on hand, and returns the updated consignment and the quantity
// actually recorded. c is not modified; on error nothing changes.
func RecordSale(c domain.Consignment, productID string, qty int, now time.Time) (domain.Consignment, int, error) {
	return move(c, productID, qty, now, func(item *domain.ConsignmentItem, n int) {
		item.QuantitySold += n
	})
}

// ReturnItems sends up to qty unsold units back to the supplier.
func ReturnItems(c domain.Consignment, productID string, qty int, now time.Time) (domain.Consignment, int, error) {
	return move(c, productID, qty, now, func(item *domain.ConsignmentItem, n int) {
		item.QuantityReturned += n
	})
}

func move(c domain.Consignment, productID string, qty int, now time.Time, apply func(*domain.ConsignmentItem, int)) (domain.Consignment, int, error) {
	if qty <= 0 {
		return c, 0, invalid("quantity must be positive, got %d", qty)
	}
	if c.Status != domain.ConsignmentActive {
		return c, 0, invalid("consignment %s is %s", c.ConsignmentNumber, c.Status)
	}
	idx := -1
	for i, item := range c.Items {
		if item.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return c, 0, invalid("product %s is not on consignment %s", productID, c.ConsignmentNumber)
	}
	left := c.Items[idx].Remaining()
	if left == 0 {
		return c, 0, invalid("nothing left of product %s on consignment %s", productID, c.ConsignmentNumber)
	}

	out := c
	out.Items = append([]domain.ConsignmentItem(nil), c.Items...)
	n := min(qty, left)
	apply(&out.Items[idx], n)

	sold := SoldValue(out)
	out.TotalSoldUSD, out.TotalSoldLocal = sold.USD, sold.Local
	out.UpdatedAt = now
	if settled(out) {
		out.Status = domain.ConsignmentCompleted
		end := now
		out.EndDate = &end
	}
	return out, n, nil
}

func settled(c domain.Consignment) bool {
	for _, item := range c.Items {
		if item.Remaining() > 0 {
			return false
		}
	}
	return true
}

// SoldValue is unit price times quantity sold, summed per currency.
func SoldValue(c domain.Consignment) money.Pair {
	sum := money.NewPair(decimal.Zero, decimal.Zero)
	for _, item := range c.Items {
		q := decimal.NewFromInt(int64(item.QuantitySold))
		sum = sum.Add(money.NewPair(item.UnitPriceUSD.Mul(q), item.UnitPriceLocal.Mul(q)))
	}
	return sum.Round()
}

// ConsignedValue is unit cost times quantity consigned, summed per currency.
func ConsignedValue(c domain.Consignment) money.Pair {
	sum := money.NewPair(decimal.Zero, decimal.Zero)
	for _, item := range c.Items {
		q := decimal.NewFromInt(int64(item.QuantityConsigned))
		sum = sum.Add(money.NewPair(item.UnitCostUSD.Mul(q), item.UnitCostLocal.Mul(q)))
	}
	return sum.Round()
}

// CalculatePaymentDue is the supplier's share of sales.
func CalculatePaymentDue(c domain.Consignment) money.Pair {
	return money.NewPair(c.TotalSoldUSD, c.TotalSoldLocal).Mul(c.ConsignmentPercent).Div(hundred).Round()
}

func DueDate(c domain.Consignment) time.Time {
	return c.StartDate.AddDate(0, 0, c.PaymentTermsDays)
}

// IsOverdue reports an active consignment past its payment terms.
func IsOverdue(c domain.Consignment, now time.Time) bool {
	return c.Status == domain.ConsignmentActive && now.After(DueDate(c))
}

func Overdue(list []domain.Consignment, now time.Time) []domain.Consignment {
	out := make([]domain.Consignment, 0)
	for _, c := range list {
		if IsOverdue(c, now) {
			out = append(out, c)
		}
	}
	return out
}

// DueSoon returns active consignments falling due within days of now that
// are not yet overdue.
func DueSoon(list []domain.Consignment, now time.Time, days int) []domain.Consignment {
	horizon := now.AddDate(0, 0, days)
	out := make([]domain.Consignment, 0)
	for _, c := range list {
		due := DueDate(c)
		if c.Status == domain.ConsignmentActive && !now.After(due) && !due.After(horizon) {
			out = append(out, c)
		}
	}
	return out
}
