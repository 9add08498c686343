package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pharmacy/internal/domain"
)

const consignmentColumns = `
	id,
	consignment_number,
	supplier_id,
	supplier_name,
	warehouse_id,
	items,
	total_value_usd::text,
	total_value_local::text,
	total_sold_usd::text,
	total_sold_local::text,
	consignment_percent::text,
	payment_terms_days,
	status,
	start_date,
	end_date,
	created_at,
	updated_at
`

func (t *pgTx) GetConsignment(ctx context.Context, id string) (domain.Consignment, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+consignmentColumns+" FROM consignments WHERE id = $1 FOR UPDATE", id)
	c, err := scanConsignment(row)
	if err != nil {
		return domain.Consignment{}, notFound(err, "consignment", id)
	}
	return c, nil
}

func (t *pgTx) SaveConsignment(ctx context.Context, c domain.Consignment) error {
	items, err := json.Marshal(nonNil(c.Items))
	if err != nil {
		return fmt.Errorf("encode consignment items: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO consignments (
			id,
			consignment_number,
			supplier_id,
			supplier_name,
			warehouse_id,
			items,
			total_value_usd,
			total_value_local,
			total_sold_usd,
			total_sold_local,
			consignment_percent,
			payment_terms_days,
			status,
			start_date,
			end_date,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
			$12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			supplier_name = EXCLUDED.supplier_name,
			items = EXCLUDED.items,
			total_value_usd = EXCLUDED.total_value_usd,
			total_value_local = EXCLUDED.total_value_local,
			total_sold_usd = EXCLUDED.total_sold_usd,
			total_sold_local = EXCLUDED.total_sold_local,
			consignment_percent = EXCLUDED.consignment_percent,
			payment_terms_days = EXCLUDED.payment_terms_days,
			status = EXCLUDED.status,
			end_date = EXCLUDED.end_date,
			updated_at = EXCLUDED.updated_at
	`,
		c.ID,
		c.ConsignmentNumber,
		c.SupplierID,
		c.SupplierName,
		c.WarehouseID,
		items,
		num(c.TotalValueUSD),
		num(c.TotalValueLocal),
		num(c.TotalSoldUSD),
		num(c.TotalSoldLocal),
		num(c.ConsignmentPercent),
		c.PaymentTermsDays,
		string(c.Status),
		c.StartDate,
		c.EndDate,
		c.CreatedAt,
		c.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("consignment number %s: %w", c.ConsignmentNumber, domain.ErrDuplicate)
		}
		return fmt.Errorf("save consignment %s: %w", c.ID, err)
	}
	return nil
}

func (t *pgTx) ListConsignments(ctx context.Context, status domain.ConsignmentStatus) ([]domain.Consignment, error) {
	rows, err := t.tx.Query(ctx, "SELECT "+consignmentColumns+`
		FROM consignments
		WHERE ($1 = '' OR status = $1)
		ORDER BY start_date ASC, id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list consignments: %w", err)
	}
	defer rows.Close()

	list := make([]domain.Consignment, 0)
	for rows.Next() {
		c, err := scanConsignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consignment: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consignments: %w", err)
	}
	return list, nil
}

func scanConsignment(row pgx.Row) (domain.Consignment, error) {
	var (
		c      domain.Consignment
		items  []byte
		status string
	)
	if err := row.Scan(
		&c.ID,
		&c.ConsignmentNumber,
		&c.SupplierID,
		&c.SupplierName,
		&c.WarehouseID,
		&items,
		&c.TotalValueUSD,
		&c.TotalValueLocal,
		&c.TotalSoldUSD,
		&c.TotalSoldLocal,
		&c.ConsignmentPercent,
		&c.PaymentTermsDays,
		&status,
		&c.StartDate,
		&c.EndDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return domain.Consignment{}, err
	}
	c.Status = domain.ConsignmentStatus(status)
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return domain.Consignment{}, fmt.Errorf("decode consignment items: %w", err)
	}
	return c, nil
}

func (t *pgTx) GetDeliveryZone(ctx context.Context, id string) (domain.DeliveryZone, error) {
	var z domain.DeliveryZone
	err := t.tx.QueryRow(ctx, `
		SELECT
			id,
			name,
			base_fee_usd::text,
			base_fee_local::text,
			fee_per_km_usd::text,
			fee_per_km_local::text,
			estimated_time_minutes,
			max_time_minutes,
			commission_percent::text,
			active
		FROM delivery_zones
		WHERE id = $1
	`, id).Scan(
		&z.ID,
		&z.Name,
		&z.BaseFeeUSD,
		&z.BaseFeeLocal,
		&z.FeePerKmUSD,
		&z.FeePerKmLocal,
		&z.EstimatedTimeMinutes,
		&z.MaxTimeMinutes,
		&z.CommissionPercent,
		&z.Active,
	)
	if err != nil {
		return domain.DeliveryZone{}, notFound(err, "delivery zone", id)
	}
	return z, nil
}

func (t *pgTx) SaveDeliveryZone(ctx context.Context, z domain.DeliveryZone) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO delivery_zones (
			id,
			name,
			base_fee_usd,
			base_fee_local,
			fee_per_km_usd,
			fee_per_km_local,
			estimated_time_minutes,
			max_time_minutes,
			commission_percent,
			active
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9::numeric, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			base_fee_usd = EXCLUDED.base_fee_usd,
			base_fee_local = EXCLUDED.base_fee_local,
			fee_per_km_usd = EXCLUDED.fee_per_km_usd,
			fee_per_km_local = EXCLUDED.fee_per_km_local,
			estimated_time_minutes = EXCLUDED.estimated_time_minutes,
			max_time_minutes = EXCLUDED.max_time_minutes,
			commission_percent = EXCLUDED.commission_percent,
			active = EXCLUDED.active
	`,
		z.ID,
		z.Name,
		num(z.BaseFeeUSD),
		num(z.BaseFeeLocal),
		num(z.FeePerKmUSD),
		num(z.FeePerKmLocal),
		z.EstimatedTimeMinutes,
		z.MaxTimeMinutes,
		num(z.CommissionPercent),
		z.Active,
	); err != nil {
		return fmt.Errorf("save delivery zone %s: %w", z.ID, err)
	}
	return nil
}

const deliveryOrderColumns = `
	id,
	order_number,
	invoice_id,
	patient_id,
	delivery_zone_id,
	delivery_address,
	delivery_fee_usd::text,
	delivery_fee_local::text,
	commission_percent::text,
	commission_usd::text,
	commission_local::text,
	status,
	estimated_delivery_time,
	actual_delivery_time,
	delivered_by,
	tracking_notes,
	created_at,
	updated_at
`

func (t *pgTx) GetDeliveryOrder(ctx context.Context, id string) (domain.DeliveryOrder, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+deliveryOrderColumns+" FROM delivery_orders WHERE id = $1 FOR UPDATE", id)
	o, err := scanDeliveryOrder(row)
	if err != nil {
		return domain.DeliveryOrder{}, notFound(err, "delivery order", id)
	}
	return o, nil
}

func (t *pgTx) SaveDeliveryOrder(ctx context.Context, o domain.DeliveryOrder) error {
	notes, err := json.Marshal(nonNil(o.TrackingNotes))
	if err != nil {
		return fmt.Errorf("encode tracking notes: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO delivery_orders (
			id,
			order_number,
			invoice_id,
			patient_id,
			delivery_zone_id,
			delivery_address,
			delivery_fee_usd,
			delivery_fee_local,
			commission_percent,
			commission_usd,
			commission_local,
			status,
			estimated_delivery_time,
			actual_delivery_time,
			delivered_by,
			tracking_notes,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
			$12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			actual_delivery_time = EXCLUDED.actual_delivery_time,
			delivered_by = EXCLUDED.delivered_by,
			tracking_notes = EXCLUDED.tracking_notes,
			updated_at = EXCLUDED.updated_at
	`,
		o.ID,
		o.OrderNumber,
		o.InvoiceID,
		o.PatientID,
		o.DeliveryZoneID,
		o.DeliveryAddress,
		num(o.DeliveryFeeUSD),
		num(o.DeliveryFeeLocal),
		num(o.CommissionPercent),
		num(o.CommissionUSD),
		num(o.CommissionLocal),
		string(o.Status),
		o.EstimatedDeliveryTime,
		o.ActualDeliveryTime,
		o.DeliveredBy,
		notes,
		o.CreatedAt,
		o.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("delivery order number %s: %w", o.OrderNumber, domain.ErrDuplicate)
		}
		return fmt.Errorf("save delivery order %s: %w", o.ID, err)
	}
	return nil
}

func (t *pgTx) ListDeliveryOrders(ctx context.Context, status domain.DeliveryStatus) ([]domain.DeliveryOrder, error) {
	rows, err := t.tx.Query(ctx, "SELECT "+deliveryOrderColumns+`
		FROM delivery_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list delivery orders: %w", err)
	}
	defer rows.Close()

	list := make([]domain.DeliveryOrder, 0)
	for rows.Next() {
		o, err := scanDeliveryOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery order: %w", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery orders: %w", err)
	}
	return list, nil
}

func scanDeliveryOrder(row pgx.Row) (domain.DeliveryOrder, error) {
	var (
		o      domain.DeliveryOrder
		status string
		notes  []byte
	)
	if err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.InvoiceID,
		&o.PatientID,
		&o.DeliveryZoneID,
		&o.DeliveryAddress,
		&o.DeliveryFeeUSD,
		&o.DeliveryFeeLocal,
		&o.CommissionPercent,
		&o.CommissionUSD,
		&o.CommissionLocal,
		&status,
		&o.EstimatedDeliveryTime,
		&o.ActualDeliveryTime,
		&o.DeliveredBy,
		&notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return domain.DeliveryOrder{}, err
	}
	o.Status = domain.DeliveryStatus(status)
	if err := json.Unmarshal(notes, &o.TrackingNotes); err != nil {
		return domain.DeliveryOrder{}, fmt.Errorf("decode tracking notes: %w", err)
	}
	return o, nil
}
