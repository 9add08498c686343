package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/inventory"
	"pharmacy/internal/invoice"
	"pharmacy/internal/money"
	"pharmacy/internal/storage"
)

type QuoteRequest struct {
	Items        []domain.CartItem `json:"items"`
	WarehouseID  string            `json:"warehouse_id"`
	Payments     []domain.Payment  `json:"payments,omitempty"`
	ExchangeRate decimal.Decimal   `json:"exchange_rate"`
}

type Quote struct {
	Items           []domain.CartItem `json:"items"`
	Totals          money.Line        `json:"totals"`
	PaymentComplete bool              `json:"payment_complete"`
	Change          money.Pair        `json:"change"`
}

// Quote prices a basket against current stock without moving any. Lines for
// the same product merge, and a line beyond allocatable stock is rejected
// the way checkout would reject it.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.WarehouseID == "" {
		req.WarehouseID = s.warehouse
	}
	if strings.TrimSpace(req.WarehouseID) == "" {
		return Quote{}, domain.Validationf("warehouse_id is required")
	}
	if !req.ExchangeRate.IsPositive() {
		return Quote{}, domain.Validationf("exchange_rate must be positive")
	}

	var cart invoice.Cart
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, item := range req.Items {
			p, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				return err
			}
			batches, err := tx.ListBatches(ctx, item.ProductID, req.WarehouseID)
			if err != nil {
				return err
			}
			if err := cart.Add(p, item.Quantity, inventory.AvailableQuantity(batches)); err != nil {
				var short *domain.InsufficientStockError
				if errors.As(err, &short) {
					short.WarehouseID = req.WarehouseID
				}
				return err
			}
			if item.PrescriptionItemID != nil {
				if err := cart.AttachPrescription(item.ProductID, *item.PrescriptionItemID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Quote{}, err
	}

	totals := cart.Totals(req.ExchangeRate)
	return Quote{
		Items:           cart.Items(),
		Totals:          totals,
		PaymentComplete: invoice.PaymentComplete(totals.Total.USD, req.Payments, req.ExchangeRate),
		Change:          invoice.Change(totals.Total, req.Payments),
	}, nil
}
