// Package inventory allocates stock from batches first-expired-first-out.
package inventory

import (
	"sort"
	"time"

	"pharmacy/internal/domain"
)

// Deduction is one planned draw from a batch.
type Deduction struct {
	Batch    domain.Batch
	Quantity int
}

// Remaining is the batch quantity after the deduction is applied.
func (d Deduction) Remaining() int {
	return d.Batch.Quantity - d.Quantity
}

// SortFEFO orders batches by expiry, then receipt time, then id.
func SortFEFO(batches []domain.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

// PlanFEFO computes the deductions needed to take qty units from batches.
// The input slice is not modified. When the allocatable total is short the
// plan is empty and the error is an *domain.InsufficientStockError.
func PlanFEFO(productID, warehouseID string, batches []domain.Batch, qty int) ([]Deduction, error) {
	if qty <= 0 {
		return nil, domain.Validationf("quantity must be positive, got %d", qty)
	}

	eligible := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if b.Allocatable() {
			eligible = append(eligible, b)
		}
	}
	SortFEFO(eligible)

	available := 0
	for _, b := range eligible {
		available += b.Quantity
	}
	if available < qty {
		return nil, &domain.InsufficientStockError{
			ProductID:   productID,
			WarehouseID: warehouseID,
			Requested:   qty,
			Available:   available,
		}
	}

	plan := make([]Deduction, 0, len(eligible))
	remaining := qty
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.Quantity)
		plan = append(plan, Deduction{Batch: b, Quantity: take})
		remaining -= take
	}
	return plan, nil
}

// AvailableQuantity sums allocatable stock.
func AvailableQuantity(batches []domain.Batch) int {
	total := 0
	for _, b := range batches {
		if b.Allocatable() {
			total += b.Quantity
		}
	}
	return total
}

// ExpiringBatches returns allocatable batches expiring within days of now,
// soonest first. Already-expired batches are included.
func ExpiringBatches(batches []domain.Batch, days int, now time.Time) []domain.Batch {
	cutoff := now.AddDate(0, 0, days)
	out := make([]domain.Batch, 0)
	for _, b := range batches {
		if b.Allocatable() && !b.ExpiryDate.After(cutoff) {
			out = append(out, b)
		}
	}
	SortFEFO(out)
	return out
}

func IsLowStock(p domain.Product, available int) bool {
	return p.ReorderThreshold > 0 && available <= p.ReorderThreshold
}
