package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

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

// Earn credits the points inv qualifies for. It returns nil without touching
// the balance when the invoice has no patient, the program is inactive or
// nothing was earned.
func (s *Service) Earn(ctx context.Context, inv domain.Invoice, programID string) (*domain.LoyaltyTransaction, error) {
	if inv.PatientID == nil || *inv.PatientID == "" {
		return nil, nil
	}
	patientID := *inv.PatientID

	var out *domain.LoyaltyTransaction
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		program, err := tx.GetLoyaltyProgram(ctx, programID)
		if err != nil {
			return fmt.Errorf("load program %s: %w", programID, err)
		}
		if !program.Active {
			return nil
		}

		products := make(map[string]domain.Product, len(inv.Items))
		for _, item := range inv.Items {
			if _, seen := products[item.ProductID]; seen {
				continue
			}
			p, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", item.ProductID, err)
			}
			products[p.ID] = p
		}

		points := CalculatePointsEarned(program, inv, products)
		if points == 0 {
			return nil
		}
		invoiceID := inv.ID
		ref := inv.InvoiceNumber
		entry, err := s.post(ctx, tx, patientID, programID, domain.LoyaltyEarned, points, &invoiceID, &ref, nil)
		if err != nil {
			return err
		}
		out = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type RedeemRequest struct {
	PatientID string  `json:"patient_id"`
	ProgramID string  `json:"program_id"`
	Points    int64   `json:"points"`
	InvoiceID *string `json:"invoice_id,omitempty"`
	// InvoiceTotal, when set, caps the redemption at the program's
	// maximum share of that total.
	InvoiceTotal *money.Pair `json:"invoice_total,omitempty"`
	Reference    *string     `json:"reference,omitempty"`
}

type Redemption struct {
	Transaction domain.LoyaltyTransaction `json:"transaction"`
	Discount    money.Pair                `json:"discount"`
}

// Redeem debits points. Any rule violation returns a *domain.RedemptionError
// and leaves the balance untouched.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (Redemption, error) {
	if req.Points <= 0 {
		return Redemption{}, domain.Validationf("points must be positive")
	}

	var out Redemption
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		program, err := tx.GetLoyaltyProgram(ctx, req.ProgramID)
		if err != nil {
			return fmt.Errorf("load program %s: %w", req.ProgramID, err)
		}
		acct, err := account(ctx, tx, req.PatientID, req.ProgramID)
		if err != nil {
			return err
		}

		reject := func(reason string) error {
			return &domain.RedemptionError{Reason: reason, Requested: req.Points, Balance: acct.PointsBalance}
		}
		switch {
		case !program.Active:
			return reject("program is inactive")
		case acct.PointsBalance < req.Points:
			return reject("insufficient balance")
		case req.Points < program.MinPointsToRedeem:
			return reject(fmt.Sprintf("minimum redemption is %d points", program.MinPointsToRedeem))
		case req.InvoiceTotal != nil && req.Points > CalculateMaxRedeemablePoints(*req.InvoiceTotal, program):
			return reject("exceeds maximum redeemable for this invoice")
		}

		entry, err := s.post(ctx, tx, req.PatientID, req.ProgramID, domain.LoyaltyRedeemed, -req.Points, req.InvoiceID, req.Reference, nil)
		if err != nil {
			return err
		}
		out = Redemption{Transaction: entry, Discount: DiscountFor(req.Points, program)}
		return nil
	})
	if err != nil {
		return Redemption{}, err
	}
	return out, nil
}

// Adjust applies a manual correction. Negative deltas may not take the
// balance below zero.
func (s *Service) Adjust(ctx context.Context, patientID, programID string, delta int64, notes string) (domain.LoyaltyTransaction, error) {
	if delta == 0 {
		return domain.LoyaltyTransaction{}, domain.Validationf("adjustment cannot be zero")
	}
	var out domain.LoyaltyTransaction
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetLoyaltyProgram(ctx, programID); err != nil {
			return fmt.Errorf("load program %s: %w", programID, err)
		}
		acct, err := account(ctx, tx, patientID, programID)
		if err != nil {
			return err
		}
		if acct.PointsBalance+delta < 0 {
			return &domain.RedemptionError{Reason: "adjustment exceeds balance", Requested: -delta, Balance: acct.PointsBalance}
		}
		out, err = s.post(ctx, tx, patientID, programID, domain.LoyaltyAdjusted, delta, nil, nil, &notes)
		return err
	})
	return out, err
}

// Expire removes up to points from the balance. It returns nil when there
// is nothing left to expire.
func (s *Service) Expire(ctx context.Context, patientID, programID string, points int64, notes string) (*domain.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, domain.Validationf("points must be positive")
	}
	var out *domain.LoyaltyTransaction
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		acct, err := account(ctx, tx, patientID, programID)
		if err != nil {
			return err
		}
		n := min(points, acct.PointsBalance)
		if n <= 0 {
			return nil
		}
		entry, err := s.post(ctx, tx, patientID, programID, domain.LoyaltyExpired, -n, nil, nil, &notes)
		if err != nil {
			return err
		}
		out = &entry
		return nil
	})
	return out, err
}

type Account struct {
	Points  domain.LoyaltyPoints        `json:"points"`
	History []domain.LoyaltyTransaction `json:"history"`
}

func (s *Service) Account(ctx context.Context, patientID, programID string) (Account, error) {
	var out Account
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		p, err := tx.GetLoyaltyPoints(ctx, patientID, programID)
		if err != nil {
			return err
		}
		history, err := tx.ListLoyaltyTransactions(ctx, patientID, programID)
		if err != nil {
			return fmt.Errorf("list loyalty history: %w", err)
		}
		out = Account{Points: p, History: history}
		return nil
	})
	return out, err
}

func account(ctx context.Context, tx storage.Tx, patientID, programID string) (domain.LoyaltyPoints, error) {
	acct, err := tx.GetLoyaltyPoints(ctx, patientID, programID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.LoyaltyPoints{PatientID: patientID, ProgramID: programID}, nil
	}
	if err != nil {
		return domain.LoyaltyPoints{}, fmt.Errorf("load points %s/%s: %w", patientID, programID, err)
	}
	return acct, nil
}

// post moves the balance by delta and appends the matching ledger entry.
// Inflows count as earned, outflows as redeemed.
func (s *Service) post(
	ctx context.Context,
	tx storage.Tx,
	patientID, programID string,
	kind domain.LoyaltyTransactionType,
	delta int64,
	invoiceID, reference, notes *string,
) (domain.LoyaltyTransaction, error) {
	acct, err := account(ctx, tx, patientID, programID)
	if err != nil {
		return domain.LoyaltyTransaction{}, err
	}

	now := s.now().UTC()
	if delta > 0 {
		acct.PointsEarned += delta
	} else {
		acct.PointsRedeemed -= delta
	}
	acct.PointsBalance = acct.PointsEarned - acct.PointsRedeemed
	acct.LastTransactionDate = &now
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	entry := domain.LoyaltyTransaction{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		ProgramID:    programID,
		InvoiceID:    invoiceID,
		Type:         kind,
		Points:       delta,
		BalanceAfter: acct.PointsBalance,
		Reference:    reference,
		Notes:        notes,
		CreatedAt:    now,
	}
	if err := tx.SaveLoyaltyPoints(ctx, acct); err != nil {
		return domain.LoyaltyTransaction{}, fmt.Errorf("save points: %w", err)
	}
	if err := tx.InsertLoyaltyTransaction(ctx, entry); err != nil {
		return domain.LoyaltyTransaction{}, fmt.Errorf("append loyalty ledger: %w", err)
	}
	return entry, nil
}
