package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"pharmacy/internal/domain"
)

// Memory is an in-process Store. Transactions run one at a time against a
// private copy of the state that replaces the shared state on commit, so a
// failed transaction leaves nothing behind.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	products      map[string]domain.Product
	batches       map[string]domain.Batch
	invoices      map[string]domain.Invoice
	invoiceNums   map[string]string
	programs      map[string]domain.LoyaltyProgram
	points        map[string]domain.LoyaltyPoints
	loyaltyLedger []domain.LoyaltyTransaction
	consignments  map[string]domain.Consignment
	zones         map[string]domain.DeliveryZone
	orders        map[string]domain.DeliveryOrder
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		products:     map[string]domain.Product{},
		batches:      map[string]domain.Batch{},
		invoices:     map[string]domain.Invoice{},
		invoiceNums:  map[string]string{},
		programs:     map[string]domain.LoyaltyProgram{},
		points:       map[string]domain.LoyaltyPoints{},
		consignments: map[string]domain.Consignment{},
		zones:        map[string]domain.DeliveryZone{},
		orders:       map[string]domain.DeliveryOrder{},
	}}
}

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, &memTx{s: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Values in the maps are never mutated in place, so a shallow copy of each
// map is enough to isolate a transaction.
func (s memState) clone() memState {
	return memState{
		products:      maps.Clone(s.products),
		batches:       maps.Clone(s.batches),
		invoices:      maps.Clone(s.invoices),
		invoiceNums:   maps.Clone(s.invoiceNums),
		programs:      maps.Clone(s.programs),
		points:        maps.Clone(s.points),
		loyaltyLedger: slices.Clone(s.loyaltyLedger),
		consignments:  maps.Clone(s.consignments),
		zones:         maps.Clone(s.zones),
		orders:        maps.Clone(s.orders),
	}
}

type memTx struct {
	s *memState
}

func (t *memTx) GetProduct(_ context.Context, id string) (domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (t *memTx) UpsertProduct(_ context.Context, p domain.Product) error {
	t.s.products[p.ID] = p
	return nil
}

func (t *memTx) LockEligibleBatches(_ context.Context, productID, warehouseID string) ([]domain.Batch, error) {
	out := make([]domain.Batch, 0)
	for _, b := range t.s.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.Allocatable() {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

func (t *memTx) LockBatch(_ context.Context, id string) (domain.Batch, error) {
	b, ok := t.s.batches[id]
	if !ok {
		return domain.Batch{}, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (t *memTx) ListBatches(_ context.Context, productID, warehouseID string) ([]domain.Batch, error) {
	out := make([]domain.Batch, 0)
	for _, b := range t.s.batches {
		if b.ProductID != productID {
			continue
		}
		if warehouseID != "" && b.WarehouseID != warehouseID {
			continue
		}
		out = append(out, b)
	}
	sortBatches(out)
	return out, nil
}

func (t *memTx) UpdateBatchQuantity(_ context.Context, id string, expected, next int) error {
	b, ok := t.s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	if b.Quantity != expected {
		return fmt.Errorf("batch %s holds %d, expected %d: %w", id, b.Quantity, expected, domain.ErrAllocationRace)
	}
	if next < 0 {
		return domain.Validationf("batch %s quantity cannot go negative", id)
	}
	b.Quantity = next
	t.s.batches[id] = b
	return nil
}

func (t *memTx) UpsertBatch(_ context.Context, b domain.Batch) error {
	t.s.batches[b.ID] = b
	return nil
}

func (t *memTx) InsertInvoice(_ context.Context, inv domain.Invoice) error {
	if _, ok := t.s.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, domain.ErrDuplicate)
	}
	if _, ok := t.s.invoiceNums[inv.InvoiceNumber]; ok {
		return fmt.Errorf("invoice number %s: %w", inv.InvoiceNumber, domain.ErrDuplicate)
	}
	t.s.invoices[inv.ID] = cloneInvoice(inv)
	t.s.invoiceNums[inv.InvoiceNumber] = inv.ID
	return nil
}

func (t *memTx) GetInvoice(_ context.Context, id string) (domain.Invoice, error) {
	inv, ok := t.s.invoices[id]
	if !ok {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	return cloneInvoice(inv), nil
}

func (t *memTx) GetLoyaltyProgram(_ context.Context, id string) (domain.LoyaltyProgram, error) {
	p, ok := t.s.programs[id]
	if !ok {
		return domain.LoyaltyProgram{}, fmt.Errorf("loyalty program %s: %w", id, domain.ErrNotFound)
	}
	return cloneProgram(p), nil
}

func (t *memTx) SaveLoyaltyProgram(_ context.Context, p domain.LoyaltyProgram) error {
	t.s.programs[p.ID] = cloneProgram(p)
	return nil
}

func pointsKey(patientID, programID string) string {
	return patientID + "\x00" + programID
}

func (t *memTx) GetLoyaltyPoints(_ context.Context, patientID, programID string) (domain.LoyaltyPoints, error) {
	p, ok := t.s.points[pointsKey(patientID, programID)]
	if !ok {
		return domain.LoyaltyPoints{}, fmt.Errorf("loyalty points %s/%s: %w", patientID, programID, domain.ErrNotFound)
	}
	return p, nil
}

func (t *memTx) SaveLoyaltyPoints(_ context.Context, p domain.LoyaltyPoints) error {
	t.s.points[pointsKey(p.PatientID, p.ProgramID)] = p
	return nil
}

func (t *memTx) InsertLoyaltyTransaction(_ context.Context, lt domain.LoyaltyTransaction) error {
	t.s.loyaltyLedger = append(t.s.loyaltyLedger, lt)
	return nil
}

func (t *memTx) ListLoyaltyTransactions(_ context.Context, patientID, programID string) ([]domain.LoyaltyTransaction, error) {
	out := make([]domain.LoyaltyTransaction, 0)
	for _, lt := range t.s.loyaltyLedger {
		if lt.PatientID == patientID && lt.ProgramID == programID {
			out = append(out, lt)
		}
	}
	return out, nil
}

func (t *memTx) GetConsignment(_ context.Context, id string) (domain.Consignment, error) {
	c, ok := t.s.consignments[id]
	if !ok {
		return domain.Consignment{}, fmt.Errorf("consignment %s: %w", id, domain.ErrNotFound)
	}
	return cloneConsignment(c), nil
}

func (t *memTx) SaveConsignment(_ context.Context, c domain.Consignment) error {
	t.s.consignments[c.ID] = cloneConsignment(c)
	return nil
}

func (t *memTx) ListConsignments(_ context.Context, status domain.ConsignmentStatus) ([]domain.Consignment, error) {
	out := make([]domain.Consignment, 0)
	for _, c := range t.s.consignments {
		if status == "" || c.Status == status {
			out = append(out, cloneConsignment(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (t *memTx) GetDeliveryZone(_ context.Context, id string) (domain.DeliveryZone, error) {
	z, ok := t.s.zones[id]
	if !ok {
		return domain.DeliveryZone{}, fmt.Errorf("delivery zone %s: %w", id, domain.ErrNotFound)
	}
	return z, nil
}

func (t *memTx) SaveDeliveryZone(_ context.Context, z domain.DeliveryZone) error {
	t.s.zones[z.ID] = z
	return nil
}

func (t *memTx) GetDeliveryOrder(_ context.Context, id string) (domain.DeliveryOrder, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return domain.DeliveryOrder{}, fmt.Errorf("delivery order %s: %w", id, domain.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (t *memTx) SaveDeliveryOrder(_ context.Context, o domain.DeliveryOrder) error {
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) ListDeliveryOrders(_ context.Context, status domain.DeliveryStatus) ([]domain.DeliveryOrder, error) {
	out := make([]domain.DeliveryOrder, 0)
	for _, o := range t.s.orders {
		if status == "" || o.Status == status {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func sortBatches(batches []domain.Batch) {
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

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	out := inv
	out.Payments = slices.Clone(inv.Payments)
	out.Items = make([]domain.InvoiceItem, len(inv.Items))
	for i, item := range inv.Items {
		item.Allocations = slices.Clone(item.Allocations)
		out.Items[i] = item
	}
	return out
}

func cloneProgram(p domain.LoyaltyProgram) domain.LoyaltyProgram {
	out := p
	out.EligibleProductIDs = slices.Clone(p.EligibleProductIDs)
	out.EligibleCategories = slices.Clone(p.EligibleCategories)
	return out
}

func cloneConsignment(c domain.Consignment) domain.Consignment {
	out := c
	out.Items = slices.Clone(c.Items)
	return out
}

func cloneOrder(o domain.DeliveryOrder) domain.DeliveryOrder {
	out := o
	out.TrackingNotes = slices.Clone(o.TrackingNotes)
	return out
}
