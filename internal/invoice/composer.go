// Package invoice turns a cart into a persisted invoice. Stock deductions
// and the invoice row commit together or not at all.
package invoice

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/inventory"
	"pharmacy/internal/money"
	"pharmacy/internal/storage"
)

type Request struct {
	Items         []domain.CartItem    `json:"items"`
	PatientID     *string              `json:"patient_id,omitempty"`
	CashierID     *string              `json:"cashier_id,omitempty"`
	WarehouseID   string               `json:"warehouse_id"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Payments      []domain.Payment     `json:"payments,omitempty"`
	ExchangeRate  decimal.Decimal      `json:"exchange_rate"`
}

type Composer struct {
	store     storage.Store
	allocator *inventory.Allocator
	locks     *inventory.KeyedLocker
	now       func() time.Time
}

func NewComposer(store storage.Store, allocator *inventory.Allocator, locks *inventory.KeyedLocker) *Composer {
	return &Composer{
		store:     store,
		allocator: allocator,
		locks:     locks,
		now:       time.Now,
	}
}

// WithClock overrides the time source used for numbering and timestamps.
func (c *Composer) WithClock(now func() time.Time) *Composer {
	c.now = now
	return c
}

// Compose validates req, prices every line, allocates stock and stores the
// invoice in a single transaction.
func (c *Composer) Compose(ctx context.Context, req Request) (domain.Invoice, error) {
	if err := validate(req); err != nil {
		return domain.Invoice{}, err
	}

	keys := make([]inventory.StockKey, 0, len(req.Items))
	for _, item := range req.Items {
		keys = append(keys, inventory.StockKey{ProductID: item.ProductID, WarehouseID: req.WarehouseID})
	}
	unlock := c.locks.LockAll(keys)
	defer unlock()

	now := c.now().UTC()
	inv := domain.Invoice{
		ID:            uuid.NewString(),
		InvoiceNumber: NewInvoiceNumber(now),
		PatientID:     req.PatientID,
		CashierID:     req.CashierID,
		WarehouseID:   req.WarehouseID,
		Status:        domain.InvoicePaid,
		PaymentMethod: req.PaymentMethod,
		Payments:      req.Payments,
		ExchangeRate:  req.ExchangeRate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := c.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		lines := make([]money.Line, 0, len(req.Items))
		items := make([]domain.InvoiceItem, 0, len(req.Items))
		for _, ci := range req.Items {
			product, err := tx.GetProduct(ctx, ci.ProductID)
			if err != nil {
				return fmt.Errorf("resolve product %s: %w", ci.ProductID, err)
			}
			if product.RequiresPrescription && (ci.PrescriptionItemID == nil || strings.TrimSpace(*ci.PrescriptionItemID) == "") {
				return fmt.Errorf("product %s: %w", product.ID, domain.ErrPrescriptionRequired)
			}
			item, line := priceItem(inv.ID, product, ci, req.ExchangeRate)
			items = append(items, item)
			lines = append(lines, line)
		}

		totals := money.SumLines(lines)
		inv.SubtotalUSD, inv.SubtotalLocal = totals.Subtotal.USD, totals.Subtotal.Local
		inv.TaxUSD, inv.TaxLocal = totals.Tax.USD, totals.Tax.Local
		inv.TotalUSD, inv.TotalLocal = totals.Total.USD, totals.Total.Local

		if len(req.Payments) > 0 {
			if !PaymentComplete(inv.TotalUSD, req.Payments, req.ExchangeRate) {
				return fmt.Errorf("invoice total %s USD: %w", inv.TotalUSD, domain.ErrPaymentIncomplete)
			}
			change := Change(totals.Total, req.Payments)
			inv.ChangeUSD, inv.ChangeLocal = change.USD, change.Local
		}

		// Allocate in LockAll's order so every terminal takes batch row locks
		// in the same sequence.
		for _, i := range allocationOrder(req.Items) {
			ci := req.Items[i]
			var (
				allocs []domain.BatchAllocation
				err    error
			)
			if ci.BatchID != nil && *ci.BatchID != "" {
				allocs, err = c.allocator.AllocateFromBatch(ctx, tx, *ci.BatchID, ci.ProductID, req.WarehouseID, ci.Quantity)
			} else {
				allocs, err = c.allocator.Allocate(ctx, tx, ci.ProductID, req.WarehouseID, ci.Quantity)
			}
			if err != nil {
				return fmt.Errorf("allocate %s: %w", ci.ProductID, err)
			}
			items[i].Allocations = allocs
		}
		inv.Items = items

		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return fmt.Errorf("insert invoice %s: %w", inv.InvoiceNumber, err)
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// allocationOrder returns item indexes sorted by product id, stable for
// repeated products.
func allocationOrder(items []domain.CartItem) []int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].ProductID < items[order[b]].ProductID
	})
	return order
}

func validate(req Request) error {
	if len(req.Items) == 0 {
		return domain.Validationf("invoice needs at least one item")
	}
	if strings.TrimSpace(req.WarehouseID) == "" {
		return domain.Validationf("warehouse_id is required")
	}
	if !req.ExchangeRate.IsPositive() {
		return domain.Validationf("exchange_rate must be positive")
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return domain.Validationf("product_id is required")
		}
		if item.Quantity <= 0 {
			return domain.Validationf("quantity for %s must be positive", item.ProductID)
		}
	}
	for _, p := range req.Payments {
		if p.AmountUSD.IsNegative() || p.AmountLocal.IsNegative() {
			return domain.Validationf("payment amounts cannot be negative")
		}
	}
	return nil
}

func priceItem(invoiceID string, p domain.Product, ci domain.CartItem, rate decimal.Decimal) (domain.InvoiceItem, money.Line) {
	unitLocal := p.PriceLocal
	if unitLocal.IsZero() {
		unitLocal = money.Convert(p.PriceUSD, rate)
	}
	unit := money.NewPair(p.PriceUSD, unitLocal)
	line := money.LineTotals(unit, ci.Quantity, p.TaxRate, p.TaxExempt)

	return domain.InvoiceItem{
		ID:                 uuid.NewString(),
		InvoiceID:          invoiceID,
		ProductID:          p.ID,
		ProductName:        p.Name,
		Category:           p.Category,
		Quantity:           ci.Quantity,
		UnitPriceUSD:       unit.USD,
		UnitPriceLocal:     unit.Local,
		TaxRate:            p.TaxRate,
		TaxExempt:          p.TaxExempt,
		SubtotalUSD:        line.Subtotal.USD,
		SubtotalLocal:      line.Subtotal.Local,
		TaxUSD:             line.Tax.USD,
		TaxLocal:           line.Tax.Local,
		TotalUSD:           line.Total.USD,
		TotalLocal:         line.Total.Local,
		PrescriptionItemID: ci.PrescriptionItemID,
	}, line
}

// NewInvoiceNumber returns INV-YYYYMMDD- followed by 12 random hex digits.
func NewInvoiceNumber(now time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), id[:12])
}
