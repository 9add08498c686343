package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pharmacy/internal/domain"
	"pharmacy/internal/excel"
	"pharmacy/internal/storage"
)

// batchNamespace derives stable batch ids from product, warehouse and lot so
// a lot received twice lands on the same batch.
var batchNamespace = uuid.MustParse("6f1c2a4e-8d0b-4b7e-9a51-3c2f0e8d7b10")

func BatchID(productID, warehouseID, lot string) string {
	return uuid.NewSHA1(batchNamespace, []byte(productID+"\x00"+warehouseID+"\x00"+lot)).String()
}

type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ImportBatches receives stock rows in one transaction. A lot that already
// exists gains the received quantity; its expiry must match.
func (s *Service) ImportBatches(ctx context.Context, rows []excel.BatchRow) (ImportResult, error) {
	if len(rows) == 0 {
		return ImportResult{}, domain.Validationf("import file has no data rows")
	}
	var result ImportResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		result = ImportResult{}
		now := s.now().UTC()
		for _, row := range rows {
			if _, err := tx.GetProduct(ctx, row.ProductID); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.Validationf("row %d: unknown product %s", row.Row, row.ProductID)
				}
				return err
			}

			id := BatchID(row.ProductID, row.WarehouseID, row.LotNumber)
			existing, err := tx.LockBatch(ctx, id)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				if err := tx.UpsertBatch(ctx, domain.Batch{
					ID:               id,
					ProductID:        row.ProductID,
					WarehouseID:      row.WarehouseID,
					LotNumber:        row.LotNumber,
					ExpiryDate:       row.ExpiryDate,
					Quantity:         row.Quantity,
					OriginalQuantity: row.Quantity,
					Zone:             row.Zone,
					ReceivedAt:       now,
					UpdatedAt:        now,
				}); err != nil {
					return err
				}
				result.Created++
			case err != nil:
				return err
			default:
				if !existing.ExpiryDate.Equal(row.ExpiryDate) {
					return domain.Validationf("row %d: lot %s already received with expiry %s",
						row.Row, row.LotNumber, existing.ExpiryDate.Format("2006-01-02"))
				}
				existing.Quantity += row.Quantity
				existing.OriginalQuantity += row.Quantity
				existing.Zone = row.Zone
				existing.UpdatedAt = now
				if err := tx.UpsertBatch(ctx, existing); err != nil {
					return err
				}
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import batches: %w", err)
	}
	s.log.Info().Int("created", result.Created).Int("updated", result.Updated).Msg("batches imported")
	return result, nil
}

// ImportProducts upserts catalogue rows, keeping the original creation time
// of products that already exist.
func (s *Service) ImportProducts(ctx context.Context, rows []excel.ProductRow) (ImportResult, error) {
	if len(rows) == 0 {
		return ImportResult{}, domain.Validationf("import file has no data rows")
	}
	var result ImportResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		result = ImportResult{}
		now := s.now().UTC()
		for _, row := range rows {
			p := domain.Product{
				ID:                   row.ID,
				Name:                 row.Name,
				GenericName:          row.GenericName,
				Category:             row.Category,
				PriceUSD:             row.PriceUSD,
				PriceLocal:           row.PriceLocal,
				TaxRate:              row.TaxRate,
				TaxExempt:            row.TaxExempt,
				ControlledSubstance:  row.ControlledSubstance,
				RequiresPrescription: row.RequiresPrescription,
				ReorderThreshold:     row.ReorderThreshold,
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			existing, err := tx.GetProduct(ctx, row.ID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				result.Created++
			case err != nil:
				return err
			default:
				p.CreatedAt = existing.CreatedAt
				result.Updated++
			}
			if err := tx.UpsertProduct(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import products: %w", err)
	}
	s.log.Info().Int("created", result.Created).Int("updated", result.Updated).Msg("products imported")
	return result, nil
}
