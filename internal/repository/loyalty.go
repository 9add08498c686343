package repository

import (
	"context"
	"fmt"

	"pharmacy/internal/domain"
)

func (t *pgTx) GetLoyaltyProgram(ctx context.Context, id string) (domain.LoyaltyProgram, error) {
	var p domain.LoyaltyProgram
	err := t.tx.QueryRow(ctx, `
		SELECT
			id,
			name,
			points_per_currency::text,
			point_value_usd::text,
			point_value_local::text,
			min_points_to_redeem,
			max_redemption_percent::text,
			eligible_product_ids,
			eligible_categories,
			requires_prescription,
			min_purchase_usd::text,
			min_purchase_local::text,
			active,
			created_at,
			updated_at
		FROM loyalty_programs
		WHERE id = $1
	`, id).Scan(
		&p.ID,
		&p.Name,
		&p.PointsPerCurrency,
		&p.PointValueUSD,
		&p.PointValueLocal,
		&p.MinPointsToRedeem,
		&p.MaxRedemptionPercent,
		&p.EligibleProductIDs,
		&p.EligibleCategories,
		&p.RequiresPrescription,
		&p.MinPurchaseUSD,
		&p.MinPurchaseLocal,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return domain.LoyaltyProgram{}, notFound(err, "loyalty program", id)
	}
	return p, nil
}

func (t *pgTx) SaveLoyaltyProgram(ctx context.Context, p domain.LoyaltyProgram) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO loyalty_programs (
			id,
			name,
			points_per_currency,
			point_value_usd,
			point_value_local,
			min_points_to_redeem,
			max_redemption_percent,
			eligible_product_ids,
			eligible_categories,
			requires_prescription,
			min_purchase_usd,
			min_purchase_local,
			active,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7::numeric,
			$8, $9, $10, $11::numeric, $12::numeric, $13, $14, $15
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			points_per_currency = EXCLUDED.points_per_currency,
			point_value_usd = EXCLUDED.point_value_usd,
			point_value_local = EXCLUDED.point_value_local,
			min_points_to_redeem = EXCLUDED.min_points_to_redeem,
			max_redemption_percent = EXCLUDED.max_redemption_percent,
			eligible_product_ids = EXCLUDED.eligible_product_ids,
			eligible_categories = EXCLUDED.eligible_categories,
			requires_prescription = EXCLUDED.requires_prescription,
			min_purchase_usd = EXCLUDED.min_purchase_usd,
			min_purchase_local = EXCLUDED.min_purchase_local,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`,
		p.ID,
		p.Name,
		num(p.PointsPerCurrency),
		num(p.PointValueUSD),
		num(p.PointValueLocal),
		p.MinPointsToRedeem,
		num(p.MaxRedemptionPercent),
		nonNil(p.EligibleProductIDs),
		nonNil(p.EligibleCategories),
		p.RequiresPrescription,
		num(p.MinPurchaseUSD),
		num(p.MinPurchaseLocal),
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save loyalty program %s: %w", p.ID, err)
	}
	return nil
}

func (t *pgTx) GetLoyaltyPoints(ctx context.Context, patientID, programID string) (domain.LoyaltyPoints, error) {
	var p domain.LoyaltyPoints
	err := t.tx.QueryRow(ctx, `
		SELECT
			patient_id,
			program_id,
			points_balance,
			points_earned,
			points_redeemed,
			last_transaction_date,
			created_at,
			updated_at
		FROM loyalty_points
		WHERE patient_id = $1 AND program_id = $2
		FOR UPDATE
	`, patientID, programID).Scan(
		&p.PatientID,
		&p.ProgramID,
		&p.PointsBalance,
		&p.PointsEarned,
		&p.PointsRedeemed,
		&p.LastTransactionDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return domain.LoyaltyPoints{}, notFound(err, "loyalty points", patientID+"/"+programID)
	}
	return p, nil
}

func (t *pgTx) SaveLoyaltyPoints(ctx context.Context, p domain.LoyaltyPoints) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO loyalty_points (
			patient_id,
			program_id,
			points_balance,
			points_earned,
			points_redeemed,
			last_transaction_date,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (patient_id, program_id) DO UPDATE SET
			points_balance = EXCLUDED.points_balance,
			points_earned = EXCLUDED.points_earned,
			points_redeemed = EXCLUDED.points_redeemed,
			last_transaction_date = EXCLUDED.last_transaction_date,
			updated_at = EXCLUDED.updated_at
	`,
		p.PatientID,
		p.ProgramID,
		p.PointsBalance,
		p.PointsEarned,
		p.PointsRedeemed,
		p.LastTransactionDate,
		p.CreatedAt,
		p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save loyalty points %s/%s: %w", p.PatientID, p.ProgramID, err)
	}
	return nil
}

func (t *pgTx) InsertLoyaltyTransaction(ctx context.Context, lt domain.LoyaltyTransaction) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO loyalty_transactions (
			id,
			patient_id,
			program_id,
			invoice_id,
			type,
			points,
			balance_after,
			reference,
			notes,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		lt.ID,
		lt.PatientID,
		lt.ProgramID,
		lt.InvoiceID,
		string(lt.Type),
		lt.Points,
		lt.BalanceAfter,
		lt.Reference,
		lt.Notes,
		lt.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("loyalty transaction %s: %w", lt.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert loyalty transaction: %w", err)
	}
	return nil
}

func (t *pgTx) ListLoyaltyTransactions(ctx context.Context, patientID, programID string) ([]domain.LoyaltyTransaction, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT
			id,
			patient_id,
			program_id,
			invoice_id,
			type,
			points,
			balance_after,
			reference,
			notes,
			created_at
		FROM loyalty_transactions
		WHERE patient_id = $1 AND program_id = $2
		ORDER BY seq ASC
	`, patientID, programID)
	if err != nil {
		return nil, fmt.Errorf("list loyalty transactions: %w", err)
	}
	defer rows.Close()

	list := make([]domain.LoyaltyTransaction, 0)
	for rows.Next() {
		var (
			lt   domain.LoyaltyTransaction
			kind string
		)
		if err := rows.Scan(
			&lt.ID,
			&lt.PatientID,
			&lt.ProgramID,
			&lt.InvoiceID,
			&kind,
			&lt.Points,
			&lt.BalanceAfter,
			&lt.Reference,
			&lt.Notes,
			&lt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan loyalty transaction: %w", err)
		}
		lt.Type = domain.LoyaltyTransactionType(kind)
		list = append(list, lt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loyalty transactions: %w", err)
	}
	return list, nil
}
