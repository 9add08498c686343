// Package repository implements storage.Store on PostgreSQL through pgx.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/storage"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ storage.Store = (*Repository)(nil)

// RunInTx commits when fn returns nil. Row locks taken through the Tx
// (FOR UPDATE) are held until then.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return asRace(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return asRace(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const productColumns = `
	id,
	name,
	generic_name,
	category,
	price_usd::text,
	price_local::text,
	tax_rate::text,
	tax_exempt,
	controlled_substance,
	requires_prescription,
	reorder_threshold,
	created_at,
	updated_at
`

func (t *pgTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProductRow(row)
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (t *pgTx) UpsertProduct(ctx context.Context, p domain.Product) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO products (
			id,
			name,
			generic_name,
			category,
			price_usd,
			price_local,
			tax_rate,
			tax_exempt,
			controlled_substance,
			requires_prescription,
			reorder_threshold,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			generic_name = EXCLUDED.generic_name,
			category = EXCLUDED.category,
			price_usd = EXCLUDED.price_usd,
			price_local = EXCLUDED.price_local,
			tax_rate = EXCLUDED.tax_rate,
			tax_exempt = EXCLUDED.tax_exempt,
			controlled_substance = EXCLUDED.controlled_substance,
			requires_prescription = EXCLUDED.requires_prescription,
			reorder_threshold = EXCLUDED.reorder_threshold,
			updated_at = EXCLUDED.updated_at
	`,
		p.ID,
		p.Name,
		p.GenericName,
		p.Category,
		num(p.PriceUSD),
		num(p.PriceLocal),
		num(p.TaxRate),
		p.TaxExempt,
		p.ControlledSubstance,
		p.RequiresPrescription,
		p.ReorderThreshold,
		p.CreatedAt,
		p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

const batchColumns = `
	id,
	product_id,
	warehouse_id,
	lot_number,
	expiry_date,
	quantity,
	original_quantity,
	zone,
	received_at,
	updated_at
`

const fefoOrder = " ORDER BY expiry_date ASC, received_at ASC, id ASC"

func (t *pgTx) LockEligibleBatches(ctx context.Context, productID, warehouseID string) ([]domain.Batch, error) {
	rows, err := t.tx.Query(ctx, "SELECT "+batchColumns+`
		FROM batches
		WHERE product_id = $1
		  AND warehouse_id = $2
		  AND zone = 'available'
		  AND quantity > 0`+fefoOrder+`
		FOR UPDATE
	`, productID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("lock batches for %s/%s: %w", productID, warehouseID, err)
	}
	return collectBatches(rows)
}

func (t *pgTx) LockBatch(ctx context.Context, id string) (domain.Batch, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+batchColumns+" FROM batches WHERE id = $1 FOR UPDATE", id)
	b, err := scanBatchRow(row)
	if err != nil {
		return domain.Batch{}, notFound(err, "batch", id)
	}
	return b, nil
}

func (t *pgTx) ListBatches(ctx context.Context, productID, warehouseID string) ([]domain.Batch, error) {
	rows, err := t.tx.Query(ctx, "SELECT "+batchColumns+`
		FROM batches
		WHERE ($1 = '' OR product_id = $1)
		  AND ($2 = '' OR warehouse_id = $2)`+fefoOrder,
		productID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return collectBatches(rows)
}

func (t *pgTx) UpdateBatchQuantity(ctx context.Context, id string, expected, next int) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE batches
		SET quantity = $3, updated_at = NOW()
		WHERE id = $1 AND quantity = $2
	`, id, expected, next)
	if err != nil {
		return fmt.Errorf("update batch %s quantity: %w", id, err)
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("check batch %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("batch %s changed from %d: %w", id, expected, domain.ErrAllocationRace)
}

func (t *pgTx) UpsertBatch(ctx context.Context, b domain.Batch) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO batches (
			id,
			product_id,
			warehouse_id,
			lot_number,
			expiry_date,
			quantity,
			original_quantity,
			zone,
			received_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			warehouse_id = EXCLUDED.warehouse_id,
			lot_number = EXCLUDED.lot_number,
			expiry_date = EXCLUDED.expiry_date,
			quantity = EXCLUDED.quantity,
			original_quantity = EXCLUDED.original_quantity,
			zone = EXCLUDED.zone,
			updated_at = EXCLUDED.updated_at
	`,
		b.ID,
		b.ProductID,
		b.WarehouseID,
		b.LotNumber,
		b.ExpiryDate,
		b.Quantity,
		b.OriginalQuantity,
		string(b.Zone),
		b.ReceivedAt,
		b.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert batch %s: %w", b.ID, err)
	}
	return nil
}

func scanProductRow(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.GenericName,
		&p.Category,
		&p.PriceUSD,
		&p.PriceLocal,
		&p.TaxRate,
		&p.TaxExempt,
		&p.ControlledSubstance,
		&p.RequiresPrescription,
		&p.ReorderThreshold,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func scanBatchRow(row pgx.Row) (domain.Batch, error) {
	var (
		b    domain.Batch
		zone string
	)
	if err := row.Scan(
		&b.ID,
		&b.ProductID,
		&b.WarehouseID,
		&b.LotNumber,
		&b.ExpiryDate,
		&b.Quantity,
		&b.OriginalQuantity,
		&zone,
		&b.ReceivedAt,
		&b.UpdatedAt,
	); err != nil {
		return domain.Batch{}, err
	}
	b.Zone = domain.Zone(zone)
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]domain.Batch, error) {
	defer rows.Close()
	batches := make([]domain.Batch, 0)
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// Numeric columns are read back as ::text and scanned through
// decimal.Decimal's sql.Scanner; writes go the other way through num.
func num(d decimal.Decimal) string {
	return d.String()
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// asRace marks deadlocks and serialization failures as allocation races so
// callers retry them like a lost CAS. Two terminals locking the same batches
// in different orders end up here.
func asRace(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case deadlockDetected, serializationFailure:
		return fmt.Errorf("%w: %w", domain.ErrAllocationRace, err)
	}
	return err
}
