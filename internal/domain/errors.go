package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                    = errors.New("not found")
	ErrDuplicate                   = errors.New("duplicate")
	ErrValidation                  = errors.New("validation failed")
	ErrInsufficientStock           = errors.New("insufficient stock")
	ErrAllocationRace              = errors.New("allocation race")
	ErrInvalidRedemption           = errors.New("invalid redemption")
	ErrSyncFailure                 = errors.New("sync failure")
	ErrInvalidConsignmentOperation = errors.New("invalid consignment operation")
	ErrInvalidTransition           = errors.New("invalid status transition")
	ErrPrescriptionRequired        = errors.New("prescription required")
	ErrPaymentIncomplete           = errors.New("payment incomplete")
)

type InsufficientStockError struct {
	ProductID   string
	WarehouseID string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf(
		"insufficient stock for product %s in warehouse %s: requested %d, available %d",
		e.ProductID, e.WarehouseID, e.Requested, e.Available,
	)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type RedemptionError struct {
	Reason    string
	Requested int64
	Balance   int64
}

func (e *RedemptionError) Error() string {
	return fmt.Sprintf("invalid redemption of %d points (balance %d): %s", e.Requested, e.Balance, e.Reason)
}

func (e *RedemptionError) Unwrap() error { return ErrInvalidRedemption }

// Validationf builds an error that matches ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
