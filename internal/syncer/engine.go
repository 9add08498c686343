// Package syncer pushes offline transactions to the central system.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pharmacy/internal/domain"
	"pharmacy/internal/offline"
)

// ErrSkipped means the attempt was never started: the caller had already
// cancelled, or another worker holds the claim.
var ErrSkipped = errors.New("sync skipped")

// Payload is what the remote receives. InvoiceNumber is the idempotency key;
// every retry of the same transaction sends the same value.
type Payload struct {
	TransactionID string               `json:"transaction_id"`
	InvoiceNumber string               `json:"invoice_number"`
	Invoice       domain.Invoice       `json:"invoice"`
	TotalUSD      decimal.Decimal      `json:"total_usd"`
	TotalLocal    decimal.Decimal      `json:"total_local"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	CreatedAt     time.Time            `json:"created_at"`
	Attempt       int                  `json:"attempt"`
}

// Remote must treat a repeated InvoiceNumber as already applied.
type Remote interface {
	Push(ctx context.Context, p Payload) error
}

// Store is the part of the offline store the engine drives.
type Store interface {
	Claim(ctx context.Context, id string) (domain.OfflineTransaction, error)
	MarkSynced(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	ListPending(ctx context.Context, limit int) ([]domain.OfflineTransaction, error)
	RecoverStale(ctx context.Context, age time.Duration) (int64, error)
}

type Options struct {
	Workers   int
	Timeout   time.Duration
	BatchSize int
}

type Engine struct {
	store   Store
	remote  Remote
	workers int
	timeout time.Duration
	batch   int
	log     zerolog.Logger
}

func NewEngine(store Store, remote Remote, opts Options, log zerolog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	return &Engine{
		store:   store,
		remote:  remote,
		workers: opts.Workers,
		timeout: opts.Timeout,
		batch:   opts.BatchSize,
		log:     log.With().Str("component", "syncer").Logger(),
	}
}

// SyncTransaction makes one attempt for id. Once claimed, the attempt runs to
// completion under its own timeout even if ctx is cancelled, and the
// transaction always ends up synced or pending.
func (e *Engine) SyncTransaction(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync %s: %w: %w", id, ErrSkipped, err)
	}

	tx, err := e.store.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, offline.ErrNotClaimable) {
			return fmt.Errorf("sync %s: %w: %w", id, ErrSkipped, err)
		}
		return fmt.Errorf("claim %s: %w", id, err)
	}

	detached := context.WithoutCancel(ctx)
	attemptCtx, cancel := context.WithTimeout(detached, e.timeout)
	pushErr := e.remote.Push(attemptCtx, payloadFor(tx))
	cancel()

	if pushErr != nil {
		if err := e.store.MarkFailed(detached, tx.ID, pushErr); err != nil {
			e.log.Error().Err(err).Str("invoice_number", tx.InvoiceNumber).Msg("record sync failure")
		}
		e.log.Warn().
			Err(pushErr).
			Str("invoice_number", tx.InvoiceNumber).
			Int("attempt", tx.SyncAttemptCount).
			Msg("sync attempt failed")
		return fmt.Errorf("sync %s: %w: %w", tx.InvoiceNumber, domain.ErrSyncFailure, pushErr)
	}

	if err := e.store.MarkSynced(detached, tx.ID); err != nil {
		return fmt.Errorf("mark %s synced: %w", tx.InvoiceNumber, err)
	}
	e.log.Debug().Str("invoice_number", tx.InvoiceNumber).Int("attempt", tx.SyncAttemptCount).Msg("synced")
	return nil
}

type TxError struct {
	TransactionID string `json:"transaction_id"`
	InvoiceNumber string `json:"invoice_number"`
	Error         string `json:"error"`
}

type Summary struct {
	Synced  int       `json:"synced"`
	Failed  int       `json:"failed"`
	Skipped int       `json:"skipped"`
	Errors  []TxError `json:"errors"`
}

// SyncAllPending attempts every pending transaction, oldest first, with at
// most Workers attempts in flight. One failure never stops the others.
func (e *Engine) SyncAllPending(ctx context.Context) (Summary, error) {
	pending, err := e.store.ListPending(ctx, e.batch)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending: %w", err)
	}

	var (
		mu  sync.Mutex
		sum = Summary{Errors: []TxError{}}
		g   errgroup.Group
	)
	g.SetLimit(e.workers)

	for _, tx := range pending {
		if ctx.Err() != nil {
			mu.Lock()
			sum.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			err := e.SyncTransaction(ctx, tx.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sum.Synced++
			case errors.Is(err, ErrSkipped):
				sum.Skipped++
			default:
				sum.Failed++
				sum.Errors = append(sum.Errors, TxError{
					TransactionID: tx.ID,
					InvoiceNumber: tx.InvoiceNumber,
					Error:         err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(pending) > 0 {
		e.log.Info().
			Int("synced", sum.Synced).
			Int("failed", sum.Failed).
			Int("skipped", sum.Skipped).
			Msg("sync batch complete")
	}
	return sum, nil
}

// RecoverStale releases claims older than age left behind by a crash.
func (e *Engine) RecoverStale(ctx context.Context, age time.Duration) (int64, error) {
	n, err := e.store.RecoverStale(ctx, age)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Warn().Int64("count", n).Msg("released interrupted sync claims")
	}
	return n, nil
}

func payloadFor(tx domain.OfflineTransaction) Payload {
	return Payload{
		TransactionID: tx.ID,
		InvoiceNumber: tx.InvoiceNumber,
		Invoice:       tx.Invoice,
		TotalUSD:      tx.TotalUSD,
		TotalLocal:    tx.TotalLocal,
		PaymentMethod: tx.PaymentMethod,
		CreatedAt:     tx.CreatedAt,
		Attempt:       tx.SyncAttemptCount,
	}
}
