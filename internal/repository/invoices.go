package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"pharmacy/internal/domain"
)

func (t *pgTx) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	payments, err := json.Marshal(nonNil(inv.Payments))
	if err != nil {
		return fmt.Errorf("encode payments: %w", err)
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO invoices (
			id,
			invoice_number,
			patient_id,
			cashier_id,
			warehouse_id,
			status,
			subtotal_usd,
			subtotal_local,
			tax_usd,
			tax_local,
			total_usd,
			total_local,
			payment_method,
			payments,
			change_usd,
			change_local,
			exchange_rate,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
			$13, $14, $15::numeric, $16::numeric, $17::numeric, $18, $19
		)
	`,
		inv.ID,
		inv.InvoiceNumber,
		inv.PatientID,
		inv.CashierID,
		inv.WarehouseID,
		string(inv.Status),
		num(inv.SubtotalUSD),
		num(inv.SubtotalLocal),
		num(inv.TaxUSD),
		num(inv.TaxLocal),
		num(inv.TotalUSD),
		num(inv.TotalLocal),
		string(inv.PaymentMethod),
		payments,
		num(inv.ChangeUSD),
		num(inv.ChangeLocal),
		num(inv.ExchangeRate),
		inv.CreatedAt,
		inv.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice %s (%s): %w", inv.ID, inv.InvoiceNumber, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	for i, item := range inv.Items {
		allocations, err := json.Marshal(nonNil(item.Allocations))
		if err != nil {
			return fmt.Errorf("encode allocations: %w", err)
		}
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO invoice_items (
				id,
				invoice_id,
				line_no,
				product_id,
				product_name,
				category,
				quantity,
				unit_price_usd,
				unit_price_local,
				tax_rate,
				tax_exempt,
				subtotal_usd,
				subtotal_local,
				tax_usd,
				tax_local,
				total_usd,
				total_local,
				prescription_item_id,
				allocations
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8::numeric, $9::numeric, $10::numeric, $11,
				$12::numeric, $13::numeric, $14::numeric, $15::numeric, $16::numeric, $17::numeric,
				$18, $19
			)
		`,
			item.ID,
			inv.ID,
			i,
			item.ProductID,
			item.ProductName,
			item.Category,
			item.Quantity,
			num(item.UnitPriceUSD),
			num(item.UnitPriceLocal),
			num(item.TaxRate),
			item.TaxExempt,
			num(item.SubtotalUSD),
			num(item.SubtotalLocal),
			num(item.TaxUSD),
			num(item.TaxLocal),
			num(item.TotalUSD),
			num(item.TotalLocal),
			item.PrescriptionItemID,
			allocations,
		); err != nil {
			return fmt.Errorf("insert invoice item %s: %w", item.ProductID, err)
		}
	}
	return nil
}

func (t *pgTx) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	var (
		inv      domain.Invoice
		status   string
		method   string
		payments []byte
	)
	err := t.tx.QueryRow(ctx, `
		SELECT
			id,
			invoice_number,
			patient_id,
			cashier_id,
			warehouse_id,
			status,
			subtotal_usd::text,
			subtotal_local::text,
			tax_usd::text,
			tax_local::text,
			total_usd::text,
			total_local::text,
			payment_method,
			payments,
			change_usd::text,
			change_local::text,
			exchange_rate::text,
			created_at,
			updated_at
		FROM invoices
		WHERE id = $1
	`, id).Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.PatientID,
		&inv.CashierID,
		&inv.WarehouseID,
		&status,
		&inv.SubtotalUSD,
		&inv.SubtotalLocal,
		&inv.TaxUSD,
		&inv.TaxLocal,
		&inv.TotalUSD,
		&inv.TotalLocal,
		&method,
		&payments,
		&inv.ChangeUSD,
		&inv.ChangeLocal,
		&inv.ExchangeRate,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return domain.Invoice{}, notFound(err, "invoice", id)
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.PaymentMethod = domain.PaymentMethod(method)
	if err := json.Unmarshal(payments, &inv.Payments); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode payments of %s: %w", id, err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT
			id,
			invoice_id,
			product_id,
			product_name,
			category,
			quantity,
			unit_price_usd::text,
			unit_price_local::text,
			tax_rate::text,
			tax_exempt,
			subtotal_usd::text,
			subtotal_local::text,
			tax_usd::text,
			tax_local::text,
			total_usd::text,
			total_local::text,
			prescription_item_id,
			allocations
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY line_no ASC
	`, id)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("load items of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item        domain.InvoiceItem
			allocations []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.InvoiceID,
			&item.ProductID,
			&item.ProductName,
			&item.Category,
			&item.Quantity,
			&item.UnitPriceUSD,
			&item.UnitPriceLocal,
			&item.TaxRate,
			&item.TaxExempt,
			&item.SubtotalUSD,
			&item.SubtotalLocal,
			&item.TaxUSD,
			&item.TaxLocal,
			&item.TotalUSD,
			&item.TotalLocal,
			&item.PrescriptionItemID,
			&allocations,
		); err != nil {
			return domain.Invoice{}, fmt.Errorf("scan invoice item: %w", err)
		}
		if err := json.Unmarshal(allocations, &item.Allocations); err != nil {
			return domain.Invoice{}, fmt.Errorf("decode allocations of %s: %w", item.ID, err)
		}
		inv.Items = append(inv.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Invoice{}, fmt.Errorf("iterate invoice items: %w", err)
	}
	return inv, nil
}

// nonNil keeps JSONB columns as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
