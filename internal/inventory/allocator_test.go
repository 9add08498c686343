package inventory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"pharmacy/internal/domain"
	"pharmacy/internal/storage"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newStore(t *testing.T, batches ...domain.Batch) *storage.Memory {
	t.Helper()
	m := storage.NewMemory()
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		for _, b := range batches {
			if err := tx.UpsertBatch(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m
}

func quantities(t *testing.T, m *storage.Memory, productID, warehouseID string) map[string]int {
	t.Helper()
	out := map[string]int{}
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		batches, err := tx.ListBatches(ctx, productID, warehouseID)
		if err != nil {
			return err
		}
		for _, b := range batches {
			out[b.ID] = b.Quantity
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	return out
}

func twoBatches() []domain.Batch {
	return []domain.Batch{
		{ID: "B2", ProductID: "P", WarehouseID: "W", LotNumber: "L2", ExpiryDate: day("2025-06-01"), Quantity: 10, Zone: domain.ZoneAvailable},
		{ID: "B1", ProductID: "P", WarehouseID: "W", LotNumber: "L1", ExpiryDate: day("2025-01-01"), Quantity: 5, Zone: domain.ZoneAvailable},
	}
}

func TestAllocateConsumesEarliestExpiryFirst(t *testing.T) {
	m := newStore(t, twoBatches()...)
	alloc := NewAllocator()

	var got []domain.BatchAllocation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		got, err = alloc.Allocate(ctx, tx, "P", "W", 8)
		return err
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if len(got) != 2 || got[0].BatchID != "B1" || got[0].Quantity != 5 || got[1].BatchID != "B2" || got[1].Quantity != 3 {
		t.Fatalf("unexpected allocations: %+v", got)
	}
	q := quantities(t, m, "P", "W")
	if q["B1"] != 0 || q["B2"] != 7 {
		t.Fatalf("quantities = %v, want B1=0 B2=7", q)
	}
}

func TestAllocateInsufficientLeavesBatchesUntouched(t *testing.T) {
	m := newStore(t, twoBatches()...)
	alloc := NewAllocator()

	err := m.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := alloc.Allocate(ctx, tx, "P", "W", 20)
		return err
	})

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 15 || stockErr.Requested != 20 {
		t.Errorf("unexpected error detail: %+v", stockErr)
	}
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("error does not match ErrInsufficientStock")
	}
	q := quantities(t, m, "P", "W")
	if q["B1"] != 5 || q["B2"] != 10 {
		t.Fatalf("quantities changed after failed allocation: %v", q)
	}
}

func TestPlanFEFOSkipsIneligibleBatches(t *testing.T) {
	batches := []domain.Batch{
		{ID: "q", ExpiryDate: day("2024-01-01"), Quantity: 50, Zone: domain.ZoneQuarantine},
		{ID: "a", ExpiryDate: day("2025-03-01"), Quantity: 4, Zone: domain.ZoneAvailable},
		{ID: "b", ExpiryDate: day("2025-03-01"), Quantity: 4, Zone: domain.ZoneAvailable, ReceivedAt: day("2024-01-01")},
	}
	plan, err := PlanFEFO("P", "W", batches, 6)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// Same expiry: the batch received first wins; zero time sorts first.
	if len(plan) != 2 || plan[0].Batch.ID != "a" || plan[0].Quantity != 4 || plan[1].Batch.ID != "b" || plan[1].Quantity != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if batches[0].ID != "q" || batches[1].Quantity != 4 {
		t.Fatalf("input slice was modified")
	}

	if _, err := PlanFEFO("P", "W", batches, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
}

func TestAllocateConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var batches []domain.Batch
	initial := 0
	for i := 0; i < 8; i++ {
		q := rng.Intn(20)
		initial += q
		batches = append(batches, domain.Batch{
			ID:          string(rune('a' + i)),
			ProductID:   "P",
			WarehouseID: "W",
			ExpiryDate:  day("2025-01-01").AddDate(0, 0, rng.Intn(365)),
			Quantity:    q,
			Zone:        domain.ZoneAvailable,
		})
	}
	m := newStore(t, batches...)
	alloc := NewAllocator()

	allocated := 0
	for i := 0; i < 40; i++ {
		want := rng.Intn(10) + 1
		err := m.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
			got, err := alloc.Allocate(ctx, tx, "P", "W", want)
			if err != nil {
				return err
			}
			for _, a := range got {
				allocated += a.Quantity
			}
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("allocate: %v", err)
		}
	}

	final := 0
	for _, q := range quantities(t, m, "P", "W") {
		if q < 0 {
			t.Fatalf("negative batch quantity %d", q)
		}
		final += q
	}
	if initial != final+allocated {
		t.Fatalf("conservation broken: initial %d, final %d, allocated %d", initial, final, allocated)
	}
}

func TestAllocateFromBatch(t *testing.T) {
	m := newStore(t, twoBatches()...)
	alloc := NewAllocator()

	tests := []struct {
		name    string
		batchID string
		product string
		qty     int
		wantErr error
	}{
		{name: "later batch on request", batchID: "B2", product: "P", qty: 4},
		{name: "wrong product", batchID: "B2", product: "X", qty: 1, wantErr: domain.ErrValidation},
		{name: "too many", batchID: "B1", product: "P", qty: 6, wantErr: domain.ErrInsufficientStock},
		{name: "unknown batch", batchID: "nope", product: "P", qty: 1, wantErr: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
				_, err := alloc.AllocateFromBatch(ctx, tx, tt.batchID, tt.product, "W", tt.qty)
				return err
			})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if q := quantities(t, m, "P", "W"); q["B2"] != 6 || q["B1"] != 5 {
		t.Fatalf("quantities = %v, want B1=5 B2=6", q)
	}
}

type racingTx struct {
	storage.Tx
	batches []domain.Batch
}

func (r racingTx) LockEligibleBatches(context.Context, string, string) ([]domain.Batch, error) {
	return r.batches, nil
}

func (r racingTx) UpdateBatchQuantity(context.Context, string, int, int) error {
	return domain.ErrAllocationRace
}

func TestAllocateSurfacesRace(t *testing.T) {
	tx := racingTx{batches: twoBatches()}
	_, err := NewAllocator().Allocate(context.Background(), tx, "P", "W", 3)
	if !errors.Is(err, domain.ErrAllocationRace) {
		t.Fatalf("expected ErrAllocationRace, got %v", err)
	}
}

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	l := NewKeyedLocker()
	key := StockKey{ProductID: "P", WarehouseID: "W"}

	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.LockAll([]StockKey{key, {ProductID: "Q", WarehouseID: "W"}, key})
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if len(l.locks) != 0 {
		t.Fatalf("lock table not cleaned up: %d entries", len(l.locks))
	}
}

func TestExpiringAndLowStock(t *testing.T) {
	now := day("2025-01-01")
	batches := []domain.Batch{
		{ID: "soon", ExpiryDate: now.AddDate(0, 0, 10), Quantity: 2, Zone: domain.ZoneAvailable},
		{ID: "later", ExpiryDate: now.AddDate(0, 3, 0), Quantity: 2, Zone: domain.ZoneAvailable},
		{ID: "expired", ExpiryDate: now.AddDate(0, 0, -1), Quantity: 1, Zone: domain.ZoneAvailable},
	}
	got := ExpiringBatches(batches, 30, now)
	if len(got) != 2 || got[0].ID != "expired" || got[1].ID != "soon" {
		t.Fatalf("unexpected expiring batches: %+v", got)
	}
	if AvailableQuantity(batches) != 5 {
		t.Fatalf("available = %d, want 5", AvailableQuantity(batches))
	}
	if !IsLowStock(domain.Product{ReorderThreshold: 5}, 5) {
		t.Errorf("expected low stock at threshold")
	}
	if IsLowStock(domain.Product{}, 0) {
		t.Errorf("no threshold means never low")
	}
}
