package service

import (
	"context"
	"fmt"

	"pharmacy/internal/consignment"
	"pharmacy/internal/delivery"
	"pharmacy/internal/domain"
	"pharmacy/internal/events"
	"pharmacy/internal/loyalty"
	"pharmacy/internal/offline"
	"pharmacy/internal/syncer"
)

func (s *Service) OfflineStatus(ctx context.Context) (offline.Status, error) {
	if s.offline == nil {
		return offline.Status{}, fmt.Errorf("offline store: %w", domain.ErrNotFound)
	}
	return s.offline.Status(ctx)
}

// OfflineTransactions lists by sync state; failed means pending past the
// attempt ceiling.
func (s *Service) OfflineTransactions(ctx context.Context, state string) ([]domain.OfflineTransaction, error) {
	if s.offline == nil {
		return nil, fmt.Errorf("offline store: %w", domain.ErrNotFound)
	}
	if state == "" {
		state = string(domain.SyncPending)
	}
	return s.offline.ListByState(ctx, state)
}

func (s *Service) SyncPending(ctx context.Context) (syncer.Summary, error) {
	if s.engine == nil {
		return syncer.Summary{}, ErrSyncDisabled
	}
	return s.engine.SyncAllPending(ctx)
}

// SyncTransaction forces one attempt, including for transactions past the
// attempt ceiling.
func (s *Service) SyncTransaction(ctx context.Context, id string) (domain.OfflineTransaction, error) {
	if s.engine == nil {
		return domain.OfflineTransaction{}, ErrSyncDisabled
	}
	if err := s.syncNow(ctx, id); err != nil {
		return domain.OfflineTransaction{}, err
	}
	return s.offline.Get(ctx, id)
}

// syncNow runs one attempt on the worker when one is running and waits for
// it; otherwise the attempt runs inline.
func (s *Service) syncNow(ctx context.Context, id string) error {
	if s.queue != nil {
		fut, err := s.queue.Submit(id)
		if err == nil {
			return fut.Wait(ctx)
		}
		s.log.Debug().Err(err).Str("transaction_id", id).Msg("sync queue unavailable, syncing inline")
	}
	return s.engine.SyncTransaction(ctx, id)
}

func (s *Service) LoyaltyAccount(ctx context.Context, patientID, programID string) (loyalty.Account, error) {
	return s.loyalty.Account(ctx, patientID, programID)
}

func (s *Service) RedeemPoints(ctx context.Context, req loyalty.RedeemRequest) (loyalty.Redemption, error) {
	return s.loyalty.Redeem(ctx, req)
}

func (s *Service) AdjustPoints(ctx context.Context, patientID, programID string, delta int64, notes string) (domain.LoyaltyTransaction, error) {
	return s.loyalty.Adjust(ctx, patientID, programID, delta, notes)
}

func (s *Service) RecordConsignmentSale(ctx context.Context, id, productID string, qty int) (consignment.Movement, error) {
	m, err := s.consignments.RecordSale(ctx, id, productID, qty)
	if err != nil {
		return consignment.Movement{}, err
	}
	s.announceMovement(ctx, "sale", productID, qty, m)
	return m, nil
}

func (s *Service) ReturnConsignmentItems(ctx context.Context, id, productID string, qty int) (consignment.Movement, error) {
	m, err := s.consignments.ReturnItems(ctx, id, productID, qty)
	if err != nil {
		return consignment.Movement{}, err
	}
	s.announceMovement(ctx, "return", productID, qty, m)
	return m, nil
}

func (s *Service) announceMovement(ctx context.Context, kind, productID string, requested int, m consignment.Movement) {
	evt := events.Event{
		Type: events.ConsignmentMovement,
		Key:  m.Consignment.ID,
		At:   m.Consignment.UpdatedAt,
		Data: map[string]any{
			"kind":        kind,
			"product_id":  productID,
			"requested":   requested,
			"applied":     m.Applied,
			"consignment": m.Consignment,
		},
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("consignment_id", m.Consignment.ID).Msg("publish consignment movement")
	}
}

func (s *Service) ConsignmentPaymentDue(ctx context.Context, id string) (consignment.PaymentDue, error) {
	return s.consignments.PaymentDue(ctx, id)
}

func (s *Service) OverdueConsignments(ctx context.Context) ([]domain.Consignment, error) {
	return s.consignments.Overdue(ctx)
}

func (s *Service) ConsignmentsDueSoon(ctx context.Context, days int) ([]domain.Consignment, error) {
	return s.consignments.DueSoon(ctx, days)
}

func (s *Service) AdvanceDelivery(ctx context.Context, id string, status domain.DeliveryStatus, note string, userID *string) (domain.DeliveryOrder, error) {
	return s.deliveries.Advance(ctx, id, status, note, userID)
}

func (s *Service) CreateDelivery(ctx context.Context, req delivery.CreateRequest) (domain.DeliveryOrder, error) {
	return s.deliveries.Create(ctx, req)
}

func (s *Service) DeliveryOnTimeRate(ctx context.Context) (float64, error) {
	return s.deliveries.OnTimeRate(ctx)
}
