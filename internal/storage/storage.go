// Package storage defines the transactional persistence contract shared by
// the allocator, composer, loyalty, consignment and delivery services.
package storage

import (
	"context"

	"pharmacy/internal/domain"
)

// Store runs fn inside one transaction. A non-nil error from fn rolls back
// every write made through tx; a nil error commits them together.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	UpsertProduct(ctx context.Context, p domain.Product) error

	// LockEligibleBatches returns the available, non-empty batches of a
	// product in a warehouse, earliest expiry first, locked for the rest of
	// the transaction.
	LockEligibleBatches(ctx context.Context, productID, warehouseID string) ([]domain.Batch, error)
	// LockBatch loads one batch by id, locked for the rest of the transaction.
	LockBatch(ctx context.Context, id string) (domain.Batch, error)
	ListBatches(ctx context.Context, productID, warehouseID string) ([]domain.Batch, error)
	// UpdateBatchQuantity sets the quantity only if it still equals expected,
	// and returns domain.ErrAllocationRace otherwise.
	UpdateBatchQuantity(ctx context.Context, id string, expected, next int) error
	UpsertBatch(ctx context.Context, b domain.Batch) error

	InsertInvoice(ctx context.Context, inv domain.Invoice) error
	GetInvoice(ctx context.Context, id string) (domain.Invoice, error)

	GetLoyaltyProgram(ctx context.Context, id string) (domain.LoyaltyProgram, error)
	SaveLoyaltyProgram(ctx context.Context, p domain.LoyaltyProgram) error
	// GetLoyaltyPoints locks the account row; domain.ErrNotFound when the
	// patient has never earned in the program.
	GetLoyaltyPoints(ctx context.Context, patientID, programID string) (domain.LoyaltyPoints, error)
	SaveLoyaltyPoints(ctx context.Context, p domain.LoyaltyPoints) error
	InsertLoyaltyTransaction(ctx context.Context, t domain.LoyaltyTransaction) error
	ListLoyaltyTransactions(ctx context.Context, patientID, programID string) ([]domain.LoyaltyTransaction, error)

	GetConsignment(ctx context.Context, id string) (domain.Consignment, error)
	SaveConsignment(ctx context.Context, c domain.Consignment) error
	ListConsignments(ctx context.Context, status domain.ConsignmentStatus) ([]domain.Consignment, error)

	GetDeliveryZone(ctx context.Context, id string) (domain.DeliveryZone, error)
	SaveDeliveryZone(ctx context.Context, z domain.DeliveryZone) error
	GetDeliveryOrder(ctx context.Context, id string) (domain.DeliveryOrder, error)
	SaveDeliveryOrder(ctx context.Context, o domain.DeliveryOrder) error
	ListDeliveryOrders(ctx context.Context, status domain.DeliveryStatus) ([]domain.DeliveryOrder, error)
}
