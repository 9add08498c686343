package consignment

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/storage"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func sample() domain.Consignment {
	return domain.Consignment{
		ID:                 "c1",
		ConsignmentNumber:  "CON-1",
		Status:             domain.ConsignmentActive,
		ConsignmentPercent: d("70"),
		PaymentTermsDays:   30,
		StartDate:          start,
		Items: []domain.ConsignmentItem{
			{ProductID: "ins", QuantityConsigned: 10, UnitPriceUSD: d("12.50"), UnitPriceLocal: d("456.25")},
			{ProductID: "gau", QuantityConsigned: 4, UnitPriceUSD: d("3.00"), UnitPriceLocal: d("109.50")},
		},
	}
}

func TestRecordSaleClampsAndTotals(t *testing.T) {
	c := sample()

	next, applied, err := RecordSale(c, "ins", 3, start)
	if err != nil || applied != 3 {
		t.Fatalf("sale: applied=%d err=%v", applied, err)
	}
	if c.Items[0].QuantitySold != 0 {
		t.Fatalf("input consignment was mutated")
	}
	if !next.TotalSoldUSD.Equal(d("37.50")) || !next.TotalSoldLocal.Equal(d("1368.75")) {
		t.Fatalf("totals = %s / %s", next.TotalSoldUSD, next.TotalSoldLocal)
	}

	next, _, _ = ReturnItems(next, "ins", 2, start)
	next, applied, err = RecordSale(next, "ins", 50, start)
	if err != nil || applied != 5 {
		t.Fatalf("overshooting sale should clamp to 5: applied=%d err=%v", applied, err)
	}
	if _, _, err := RecordSale(next, "ins", 1, start); !errors.Is(err, domain.ErrInvalidConsignmentOperation) {
		t.Fatalf("expected rejection once exhausted, got %v", err)
	}

	due := CalculatePaymentDue(next)
	// 8 sold at 12.50 = 100.00, 70% = 70.00; local 3650.00 -> 2555.00
	if !due.USD.Equal(d("70")) || !due.Local.Equal(d("2555")) {
		t.Fatalf("payment due = %+v", due)
	}
}

func TestRecordSaleRejections(t *testing.T) {
	cancelled := sample()
	cancelled.Status = domain.ConsignmentCancelled

	tests := []struct {
		name    string
		c       domain.Consignment
		product string
		qty     int
	}{
		{"zero quantity", sample(), "ins", 0},
		{"unknown product", sample(), "nope", 1},
		{"not active", cancelled, "ins", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied, err := RecordSale(tt.c, tt.product, tt.qty, start)
			if !errors.Is(err, domain.ErrInvalidConsignmentOperation) {
				t.Fatalf("expected invalid operation, got %v", err)
			}
			if applied != 0 || got.Items[0].QuantitySold != 0 {
				t.Fatalf("rejected call changed state")
			}
		})
	}
}

func TestCompletesWhenSettled(t *testing.T) {
	c := sample()
	c, _, _ = RecordSale(c, "ins", 10, start)
	c, _, _ = ReturnItems(c, "gau", 4, start.AddDate(0, 0, 5))
	if c.Status != domain.ConsignmentCompleted || c.EndDate == nil {
		t.Fatalf("expected completed consignment, got %s", c.Status)
	}
}

func TestBoundUnderRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for round := 0; round < 50; round++ {
		c := sample()
		for step := 0; step < 30; step++ {
			product := "ins"
			if rng.Intn(2) == 0 {
				product = "gau"
			}
			qty := rng.Intn(8) - 1
			var err error
			if rng.Intn(2) == 0 {
				c, _, err = RecordSale(c, product, qty, start)
			} else {
				c, _, err = ReturnItems(c, product, qty, start)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidConsignmentOperation) {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, item := range c.Items {
				if item.QuantitySold+item.QuantityReturned > item.QuantityConsigned || item.QuantitySold < 0 || item.QuantityReturned < 0 {
					t.Fatalf("round %d step %d: bound broken: %+v", round, step, item)
				}
			}
		}
	}
}

func TestOverdueAndDueSoon(t *testing.T) {
	now := start.AddDate(0, 0, 25)
	a := sample()
	b := sample()
	b.ID = "c2"
	b.StartDate = start.AddDate(0, 0, -10)
	done := sample()
	done.ID = "c3"
	done.Status = domain.ConsignmentCompleted
	done.StartDate = start.AddDate(-1, 0, 0)
	list := []domain.Consignment{a, b, done}

	overdue := Overdue(list, now)
	if len(overdue) != 1 || overdue[0].ID != "c2" {
		t.Fatalf("overdue = %+v", overdue)
	}
	soon := DueSoon(list, now, 7)
	if len(soon) != 1 || soon[0].ID != "c1" {
		t.Fatalf("due soon = %+v", soon)
	}
}

func TestServicePersistsMovements(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()
	_ = m.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveConsignment(ctx, sample())
	})
	svc := NewService(m)
	svc.now = func() time.Time { return start.AddDate(0, 0, 40) }

	mv, err := svc.RecordSale(ctx, "c1", "gau", 9)
	if err != nil || mv.Applied != 4 {
		t.Fatalf("record sale: %+v err=%v", mv, err)
	}
	if _, err := svc.ReturnItems(ctx, "c1", "gau", 1); !errors.Is(err, domain.ErrInvalidConsignmentOperation) {
		t.Fatalf("expected rejection returning sold-out product, got %v", err)
	}

	due, err := svc.PaymentDue(ctx, "c1")
	if err != nil {
		t.Fatalf("payment due: %v", err)
	}
	if !due.Amount.USD.Equal(d("8.4")) || !due.Overdue {
		t.Fatalf("unexpected payment due: %+v", due)
	}
	overdue, err := svc.Overdue(ctx)
	if err != nil || len(overdue) != 1 {
		t.Fatalf("overdue: %+v err=%v", overdue, err)
	}
	if _, err := svc.RecordSale(ctx, "missing", "gau", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
