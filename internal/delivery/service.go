package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/events"
	"pharmacy/internal/storage"
)

type Service struct {
	store     storage.Store
	publisher events.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(store storage.Store, publisher events.Publisher, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		log:       log.With().Str("component", "delivery").Logger(),
		now:       time.Now,
	}
}

type CreateRequest struct {
	InvoiceID  string          `json:"invoice_id"`
	PatientID  *string         `json:"patient_id,omitempty"`
	ZoneID     string          `json:"zone_id"`
	Address    string          `json:"address"`
	DistanceKm decimal.Decimal `json:"distance_km"`
}

// Create opens a pending order priced from the zone schedule.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.DeliveryOrder, error) {
	if strings.TrimSpace(req.InvoiceID) == "" || strings.TrimSpace(req.Address) == "" {
		return domain.DeliveryOrder{}, domain.Validationf("invoice_id and address are required")
	}

	var out domain.DeliveryOrder
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetInvoice(ctx, req.InvoiceID); err != nil {
			return fmt.Errorf("load invoice %s: %w", req.InvoiceID, err)
		}
		zone, err := tx.GetDeliveryZone(ctx, req.ZoneID)
		if err != nil {
			return fmt.Errorf("load zone %s: %w", req.ZoneID, err)
		}
		if !zone.Active {
			return domain.Validationf("delivery zone %s is inactive", zone.ID)
		}

		now := s.now().UTC()
		fee := QuoteFee(zone, req.DistanceKm)
		o := domain.DeliveryOrder{
			ID:                    uuid.NewString(),
			OrderNumber:           fmt.Sprintf("DEL-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8])),
			InvoiceID:             req.InvoiceID,
			PatientID:             req.PatientID,
			DeliveryZoneID:        zone.ID,
			DeliveryAddress:       req.Address,
			DeliveryFeeUSD:        fee.USD,
			DeliveryFeeLocal:      fee.Local,
			CommissionPercent:     zone.CommissionPercent,
			Status:                domain.DeliveryPending,
			EstimatedDeliveryTime: EstimateDeliveryTime(zone, now),
			TrackingNotes:         []domain.TrackingNote{{Timestamp: now, Note: "order created"}},
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		commission := Commission(o)
		o.CommissionUSD, o.CommissionLocal = commission.USD, commission.Local

		if err := tx.SaveDeliveryOrder(ctx, o); err != nil {
			return fmt.Errorf("save delivery order: %w", err)
		}
		out = o
		return nil
	})
	return out, err
}

// Advance persists a status change and announces it.
func (s *Service) Advance(ctx context.Context, id string, status domain.DeliveryStatus, note string, userID *string) (domain.DeliveryOrder, error) {
	var out domain.DeliveryOrder
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		o, err := tx.GetDeliveryOrder(ctx, id)
		if err != nil {
			return fmt.Errorf("load delivery order %s: %w", id, err)
		}
		next, err := Advance(o, status, s.now().UTC(), note, userID)
		if err != nil {
			return err
		}
		if err := tx.SaveDeliveryOrder(ctx, next); err != nil {
			return fmt.Errorf("save delivery order %s: %w", id, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return domain.DeliveryOrder{}, err
	}

	evt := events.Event{Type: events.DeliveryStatusChanged, Key: out.ID, At: out.UpdatedAt, Data: out}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("order_number", out.OrderNumber).Msg("publish delivery status")
	}
	return out, nil
}

func (s *Service) OnTimeRate(ctx context.Context) (float64, error) {
	var orders []domain.DeliveryOrder
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		orders, err = tx.ListDeliveryOrders(ctx, domain.DeliveryDelivered)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list delivered orders: %w", err)
	}
	return OnTimeRate(orders), nil
}
