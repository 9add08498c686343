package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"pharmacy/internal/domain"
)

func seedBatch(t *testing.T, m *Memory, b domain.Batch) {
	t.Helper()
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpsertBatch(ctx, b)
	})
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}
}

func TestMemoryRollbackOnError(t *testing.T) {
	m := NewMemory()
	seedBatch(t, m, domain.Batch{ID: "b1", ProductID: "p1", WarehouseID: "w1", Quantity: 5, Zone: domain.ZoneAvailable})

	boom := errors.New("boom")
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.UpdateBatchQuantity(ctx, "b1", 5, 0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBatch(ctx, "b1")
		if err != nil {
			t.Fatalf("lock batch: %v", err)
		}
		if b.Quantity != 5 {
			t.Errorf("quantity after rollback = %d, want 5", b.Quantity)
		}
		return nil
	})
}

func TestMemoryUpdateBatchQuantityCompareAndSwap(t *testing.T) {
	m := NewMemory()
	seedBatch(t, m, domain.Batch{ID: "b1", ProductID: "p1", WarehouseID: "w1", Quantity: 5, Zone: domain.ZoneAvailable})

	err := m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateBatchQuantity(ctx, "b1", 4, 2)
	})
	if !errors.Is(err, domain.ErrAllocationRace) {
		t.Fatalf("expected ErrAllocationRace, got %v", err)
	}
}

func TestMemoryEligibleBatchesOrderedByExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedBatch(t, m, domain.Batch{ID: "late", ProductID: "p1", WarehouseID: "w1", Quantity: 3, Zone: domain.ZoneAvailable, ExpiryDate: now.AddDate(0, 6, 0)})
	seedBatch(t, m, domain.Batch{ID: "early", ProductID: "p1", WarehouseID: "w1", Quantity: 3, Zone: domain.ZoneAvailable, ExpiryDate: now.AddDate(0, 1, 0)})
	seedBatch(t, m, domain.Batch{ID: "held", ProductID: "p1", WarehouseID: "w1", Quantity: 3, Zone: domain.ZoneQuarantine, ExpiryDate: now})
	seedBatch(t, m, domain.Batch{ID: "empty", ProductID: "p1", WarehouseID: "w1", Quantity: 0, Zone: domain.ZoneAvailable, ExpiryDate: now})
	seedBatch(t, m, domain.Batch{ID: "other", ProductID: "p1", WarehouseID: "w2", Quantity: 3, Zone: domain.ZoneAvailable, ExpiryDate: now})

	_ = m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		got, err := tx.LockEligibleBatches(ctx, "p1", "w1")
		if err != nil {
			t.Fatalf("lock eligible: %v", err)
		}
		if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
			t.Fatalf("unexpected eligible batches: %+v", got)
		}
		return nil
	})
}

func TestMemoryDuplicateInvoiceNumber(t *testing.T) {
	m := NewMemory()
	insert := func(id string) error {
		return m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.InsertInvoice(ctx, domain.Invoice{ID: id, InvoiceNumber: "INV-1"})
		})
	}
	if err := insert("a"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert("b"); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	_ = m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveConsignment(ctx, domain.Consignment{ID: "c1", Items: []domain.ConsignmentItem{{ProductID: "p1", QuantityConsigned: 4}}})
	})
	_ = m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		c, _ := tx.GetConsignment(ctx, "c1")
		c.Items[0].QuantitySold = 4
		return errors.New("discard")
	})
	_ = m.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		c, _ := tx.GetConsignment(ctx, "c1")
		if c.Items[0].QuantitySold != 0 {
			t.Errorf("stored consignment mutated through a returned copy")
		}
		return nil
	})
}
