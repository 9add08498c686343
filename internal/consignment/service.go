package consignment

import (
	"context"
	"fmt"
	"time"

	"pharmacy/internal/domain"
	"pharmacy/internal/money"
	"pharmacy/internal/storage"
)

type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Movement is the result of a sale or return: the stored consignment and
// the quantity that was actually applied after clamping.
type Movement struct {
	Consignment domain.Consignment `json:"consignment"`
	Applied     int                `json:"applied"`
}

func (s *Service) RecordSale(ctx context.Context, id, productID string, qty int) (Movement, error) {
	return s.mutate(ctx, id, func(c domain.Consignment, now time.Time) (domain.Consignment, int, error) {
		return RecordSale(c, productID, qty, now)
	})
}

func (s *Service) ReturnItems(ctx context.Context, id, productID string, qty int) (Movement, error) {
	return s.mutate(ctx, id, func(c domain.Consignment, now time.Time) (domain.Consignment, int, error) {
		return ReturnItems(c, productID, qty, now)
	})
}

func (s *Service) mutate(ctx context.Context, id string, fn func(domain.Consignment, time.Time) (domain.Consignment, int, error)) (Movement, error) {
	var out Movement
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.GetConsignment(ctx, id)
		if err != nil {
			return fmt.Errorf("load consignment %s: %w", id, err)
		}
		next, applied, err := fn(c, s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.SaveConsignment(ctx, next); err != nil {
			return fmt.Errorf("save consignment %s: %w", id, err)
		}
		out = Movement{Consignment: next, Applied: applied}
		return nil
	})
	return out, err
}

type PaymentDue struct {
	ConsignmentID string     `json:"consignment_id"`
	Amount        money.Pair `json:"amount"`
	DueDate       time.Time  `json:"due_date"`
	Overdue       bool       `json:"overdue"`
}

func (s *Service) PaymentDue(ctx context.Context, id string) (PaymentDue, error) {
	var out PaymentDue
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.GetConsignment(ctx, id)
		if err != nil {
			return fmt.Errorf("load consignment %s: %w", id, err)
		}
		out = PaymentDue{
			ConsignmentID: c.ID,
			Amount:        CalculatePaymentDue(c),
			DueDate:       DueDate(c),
			Overdue:       IsOverdue(c, s.now()),
		}
		return nil
	})
	return out, err
}

func (s *Service) Overdue(ctx context.Context) ([]domain.Consignment, error) {
	active, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return Overdue(active, s.now()), nil
}

func (s *Service) DueSoon(ctx context.Context, days int) ([]domain.Consignment, error) {
	active, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return DueSoon(active, s.now(), days), nil
}

func (s *Service) active(ctx context.Context) ([]domain.Consignment, error) {
	var out []domain.Consignment
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListConsignments(ctx, domain.ConsignmentActive)
		if err != nil {
			return fmt.Errorf("list consignments: %w", err)
		}
		return nil
	})
	return out, err
}
