// Package service is the application facade the HTTP handlers and CLI talk
// to. It sequences the domain components around a sale.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pharmacy/internal/consignment"
	"pharmacy/internal/delivery"
	"pharmacy/internal/domain"
	"pharmacy/internal/events"
	"pharmacy/internal/inventory"
	"pharmacy/internal/invoice"
	"pharmacy/internal/loyalty"
	"pharmacy/internal/offline"
	"pharmacy/internal/storage"
	"pharmacy/internal/syncer"
)

const composeAttempts = 3

// ErrSyncDisabled is returned by sync operations when no remote is configured.
var ErrSyncDisabled = errors.New("sync transport disabled")

// SyncQueue is the background worker's intake. Submit queues one
// transaction; Nudge asks for a sweep when the queue cannot take it.
type SyncQueue interface {
	Submit(id string) (*syncer.Future, error)
	Nudge()
}

type Deps struct {
	Store            storage.Store
	Offline          *offline.Store
	Engine           *syncer.Engine
	Queue            SyncQueue
	Publisher        events.Publisher
	Log              zerolog.Logger
	DefaultWarehouse string
}

type Service struct {
	store        storage.Store
	composer     *invoice.Composer
	offline      *offline.Store
	engine       *syncer.Engine
	queue        SyncQueue
	publisher    events.Publisher
	loyalty      *loyalty.Service
	consignments *consignment.Service
	deliveries   *delivery.Service
	log          zerolog.Logger
	warehouse    string
	now          func() time.Time
}

func New(d Deps) *Service {
	publisher := d.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	log := d.Log.With().Str("component", "service").Logger()
	return &Service{
		store:        d.Store,
		composer:     invoice.NewComposer(d.Store, inventory.NewAllocator(), inventory.NewKeyedLocker()),
		offline:      d.Offline,
		engine:       d.Engine,
		queue:        d.Queue,
		publisher:    publisher,
		loyalty:      loyalty.NewService(d.Store),
		consignments: consignment.NewService(d.Store),
		deliveries:   delivery.NewService(d.Store, publisher, d.Log),
		log:          log,
		warehouse:    d.DefaultWarehouse,
		now:          time.Now,
	}
}

type CheckoutRequest struct {
	invoice.Request
	LoyaltyProgramID string `json:"loyalty_program_id,omitempty"`
}

type CheckoutResult struct {
	Invoice     domain.Invoice             `json:"invoice"`
	Transaction domain.OfflineTransaction  `json:"offline_transaction"`
	Loyalty     *domain.LoyaltyTransaction `json:"loyalty,omitempty"`
	// Queued is false when the invoice committed but its offline record could
	// not be written. QueueInvoice repairs that without selling again.
	Queued   bool     `json:"queued"`
	Warnings []string `json:"warnings,omitempty"`
}

// Checkout takes a sale end to end. Once the invoice commits the sale is
// taken: nothing after that point returns an error. The offline record,
// loyalty, events and the sync hand-off run detached from ctx, and their
// failures are reported as warnings.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	if req.WarehouseID == "" {
		req.WarehouseID = s.warehouse
	}

	inv, err := s.compose(ctx, req.Request)
	if err != nil {
		return CheckoutResult{}, err
	}
	result := CheckoutResult{Invoice: inv}
	log := s.log.With().Str("invoice_number", inv.InvoiceNumber).Logger()

	// A client disconnect must not strand a committed sale.
	detached := context.WithoutCancel(ctx)

	if s.offline != nil {
		tx, err := s.offline.Record(detached, inv)
		if err != nil {
			log.Error().Err(err).Str("invoice_id", inv.ID).Msg("invoice committed but not queued for sync")
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"offline: invoice %s is committed but not queued for sync (%v); queue it with invoice id %s",
				inv.InvoiceNumber, err, inv.ID))
		} else {
			result.Transaction = tx
			result.Queued = true
		}
	}

	if req.LoyaltyProgramID != "" {
		earned, err := s.loyalty.Earn(detached, inv, req.LoyaltyProgramID)
		if err != nil {
			log.Warn().Err(err).Str("program_id", req.LoyaltyProgramID).Msg("earn loyalty points")
			result.Warnings = append(result.Warnings, "loyalty: "+err.Error())
		}
		result.Loyalty = earned
	}

	evt := events.Event{Type: events.InvoiceCreated, Key: inv.InvoiceNumber, At: inv.CreatedAt, Data: inv}
	if err := s.publisher.Publish(detached, evt); err != nil {
		log.Warn().Err(err).Msg("publish invoice event")
		result.Warnings = append(result.Warnings, "events: "+err.Error())
	}

	if result.Queued {
		s.enqueue(result.Transaction.ID)
	}

	log.Info().
		Str("total_usd", inv.TotalUSD.String()).
		Str("total_local", inv.TotalLocal.String()).
		Int("items", len(inv.Items)).
		Msg("checkout completed")
	return result, nil
}

// enqueue hands a recorded transaction to the sync worker. A full or
// stopped queue falls back to a sweep.
func (s *Service) enqueue(id string) {
	if s.queue == nil {
		return
	}
	if _, err := s.queue.Submit(id); err != nil {
		s.log.Debug().Err(err).Str("transaction_id", id).Msg("sync queue unavailable, requesting sweep")
		s.queue.Nudge()
	}
}

// QueueInvoice records a committed invoice for sync. Recording is idempotent
// on the invoice number, so it is safe to call for an invoice that is
// already queued.
func (s *Service) QueueInvoice(ctx context.Context, invoiceID string) (domain.OfflineTransaction, error) {
	if s.offline == nil {
		return domain.OfflineTransaction{}, fmt.Errorf("offline store: %w", domain.ErrNotFound)
	}
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.OfflineTransaction{}, err
	}
	tx, err := s.offline.Record(ctx, inv)
	if err != nil {
		return domain.OfflineTransaction{}, err
	}
	if tx.SyncState == domain.SyncPending {
		s.enqueue(tx.ID)
	}
	return tx, nil
}

// compose retries when a concurrent writer moved a batch between the
// eligibility read and the conditional update.
func (s *Service) compose(ctx context.Context, req invoice.Request) (domain.Invoice, error) {
	var lastErr error
	for attempt := 1; attempt <= composeAttempts; attempt++ {
		inv, err := s.composer.Compose(ctx, req)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, domain.ErrAllocationRace) {
			return domain.Invoice{}, err
		}
		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("allocation race, retrying")
		if ctx.Err() != nil {
			return domain.Invoice{}, ctx.Err()
		}
	}
	return domain.Invoice{}, fmt.Errorf("compose invoice after %d attempts: %w", composeAttempts, lastErr)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	var inv domain.Invoice
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		return err
	})
	return inv, err
}

type ProductStock struct {
	Product     domain.Product `json:"product"`
	WarehouseID string         `json:"warehouse_id,omitempty"`
	Available   int            `json:"available"`
	LowStock    bool           `json:"low_stock"`
	Batches     []domain.Batch `json:"batches"`
	Expiring    []domain.Batch `json:"expiring"`
}

const expiryWindowDays = 30

// ProductStock reports allocatable stock in FEFO order. An empty warehouse
// covers every warehouse.
func (s *Service) ProductStock(ctx context.Context, productID, warehouseID string) (ProductStock, error) {
	out := ProductStock{WarehouseID: warehouseID}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		batches, err := tx.ListBatches(ctx, productID, warehouseID)
		if err != nil {
			return err
		}
		out.Product = p
		out.Batches = batches
		return nil
	})
	if err != nil {
		return ProductStock{}, err
	}
	out.Available = inventory.AvailableQuantity(out.Batches)
	out.LowStock = inventory.IsLowStock(out.Product, out.Available)
	out.Expiring = inventory.ExpiringBatches(out.Batches, expiryWindowDays, s.now())
	return out, nil
}

func (s *Service) DefaultWarehouse() string {
	return s.warehouse
}
