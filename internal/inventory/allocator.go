package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pharmacy/internal/domain"
	"pharmacy/internal/storage"
)

type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate draws qty units of a product from a warehouse inside tx.
// Deductions are compare-and-swap updates; if a batch moved underneath the
// plan the call fails with domain.ErrAllocationRace and the caller is
// expected to roll back and retry the whole transaction.
func (a *Allocator) Allocate(ctx context.Context, tx storage.Tx, productID, warehouseID string, qty int) ([]domain.BatchAllocation, error) {
	batches, err := tx.LockEligibleBatches(ctx, productID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("load batches for %s: %w", productID, err)
	}

	plan, err := PlanFEFO(productID, warehouseID, batches, qty)
	if err != nil {
		return nil, err
	}
	return apply(ctx, tx, plan)
}

// AllocateFromBatch draws qty units from one pre-reserved batch.
func (a *Allocator) AllocateFromBatch(ctx context.Context, tx storage.Tx, batchID, productID, warehouseID string, qty int) ([]domain.BatchAllocation, error) {
	if qty <= 0 {
		return nil, domain.Validationf("quantity must be positive, got %d", qty)
	}
	b, err := tx.LockBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	if b.ProductID != productID || b.WarehouseID != warehouseID {
		return nil, domain.Validationf("batch %s does not hold product %s in warehouse %s", batchID, productID, warehouseID)
	}
	if b.Zone != domain.ZoneAvailable {
		return nil, domain.Validationf("batch %s is in zone %s", batchID, b.Zone)
	}
	if b.Quantity < qty {
		return nil, &domain.InsufficientStockError{
			ProductID:   productID,
			WarehouseID: warehouseID,
			Requested:   qty,
			Available:   b.Quantity,
		}
	}
	return apply(ctx, tx, []Deduction{{Batch: b, Quantity: qty}})
}

func apply(ctx context.Context, tx storage.Tx, plan []Deduction) ([]domain.BatchAllocation, error) {
	out := make([]domain.BatchAllocation, 0, len(plan))
	for _, d := range plan {
		if err := tx.UpdateBatchQuantity(ctx, d.Batch.ID, d.Batch.Quantity, d.Remaining()); err != nil {
			return nil, fmt.Errorf("deduct batch %s: %w", d.Batch.ID, err)
		}
		out = append(out, domain.BatchAllocation{
			BatchID:    d.Batch.ID,
			LotNumber:  d.Batch.LotNumber,
			ExpiryDate: d.Batch.ExpiryDate,
			Quantity:   d.Quantity,
			Remaining:  d.Remaining(),
		})
	}
	return out, nil
}

// StockKey identifies one stock pool.
type StockKey struct {
	ProductID   string
	WarehouseID string
}

// KeyedLocker serializes work per stock pool inside this process. Storage
// row locks cover other processes.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[StockKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[StockKey]*keyLock{}}
}

// LockAll acquires every distinct key in sorted order and returns a func
// that releases them.
func (l *KeyedLocker) LockAll(keys []StockKey) func() {
	uniq := make(map[StockKey]struct{}, len(keys))
	sorted := make([]StockKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := uniq[k]; ok {
			continue
		}
		uniq[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return sorted[i].WarehouseID < sorted[j].WarehouseID
	})

	held := make([]*keyLock, 0, len(sorted))
	for _, k := range sorted {
		kl := l.acquire(k)
		kl.mu.Lock()
		held = append(held, kl)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(sorted[i])
		}
	}
}

func (l *KeyedLocker) acquire(k StockKey) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyLock{}
		l.locks[k] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocker) release(k StockKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[k]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, k)
	}
}
