package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/offline"
)

// idempotentRemote applies each invoice number at most once, like the
// central endpoint is required to.
type idempotentRemote struct {
	mu        sync.Mutex
	applied   map[string]int
	pushes    int
	loseAcks  int
	failFor   map[string]bool
	inFlight  int
	maxFlight int
	delay     time.Duration
	gate      chan struct{}
}

func newIdempotentRemote() *idempotentRemote {
	return &idempotentRemote{applied: map[string]int{}, failFor: map[string]bool{}}
}

func (r *idempotentRemote) Push(ctx context.Context, p Payload) error {
	r.mu.Lock()
	r.pushes++
	r.inFlight++
	r.maxFlight = max(r.maxFlight, r.inFlight)
	gate, delay := r.gate, r.delay
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[p.InvoiceNumber] {
		return errors.New("remote unavailable")
	}
	if r.applied[p.InvoiceNumber] == 0 {
		r.applied[p.InvoiceNumber] = 1
	}
	if r.loseAcks > 0 {
		r.loseAcks--
		return errors.New("connection reset before ack")
	}
	return nil
}

func (r *idempotentRemote) remoteInvoices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func newTestStore(t *testing.T, maxAttempts int) *offline.Store {
	t.Helper()
	s, err := offline.Open(context.Background(), filepath.Join(t.TempDir(), "offline.db"), maxAttempts)
	if err != nil {
		t.Fatalf("open offline store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *offline.Store, number string) domain.OfflineTransaction {
	t.Helper()
	tx, err := s.Record(context.Background(), domain.Invoice{
		ID:            "id-" + number,
		InvoiceNumber: number,
		TotalUSD:      decimal.NewFromInt(10),
		TotalLocal:    decimal.NewFromInt(365),
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("record %s: %v", number, err)
	}
	return tx
}

func TestSyncTransactionLostAckIsIdempotent(t *testing.T) {
	store := newTestStore(t, 10)
	remote := newIdempotentRemote()
	remote.loseAcks = 1
	engine := NewEngine(store, remote, Options{Timeout: time.Second}, zerolog.Nop())
	tx := record(t, store, "INV-1")

	err := engine.SyncTransaction(context.Background(), tx.ID)
	if !errors.Is(err, domain.ErrSyncFailure) {
		t.Fatalf("expected sync failure on lost ack, got %v", err)
	}
	got, _ := store.Get(context.Background(), tx.ID)
	if got.SyncState != domain.SyncPending || got.SyncAttemptCount != 1 || got.SyncError == nil {
		t.Fatalf("unexpected state after failure: %+v", got)
	}

	if err := engine.SyncTransaction(context.Background(), tx.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ = store.Get(context.Background(), tx.ID)
	if !got.Synced || got.SyncAttemptCount != 2 {
		t.Fatalf("unexpected state after retry: %+v", got)
	}
	if remote.remoteInvoices() != 1 || remote.pushes != 2 {
		t.Fatalf("remote holds %d invoices after %d pushes, want 1 after 2", remote.remoteInvoices(), remote.pushes)
	}
}

func TestSyncTransactionTimeoutResolvesToPending(t *testing.T) {
	store := newTestStore(t, 10)
	remote := newIdempotentRemote()
	remote.delay = time.Second
	engine := NewEngine(store, remote, Options{Timeout: 20 * time.Millisecond}, zerolog.Nop())
	tx := record(t, store, "INV-1")

	err := engine.SyncTransaction(context.Background(), tx.ID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	got, _ := store.Get(context.Background(), tx.ID)
	if got.SyncState != domain.SyncPending || got.Synced {
		t.Fatalf("timed out attempt must return to pending: %+v", got)
	}
}

func TestSyncTransactionCancelledBeforeStartIsSkipped(t *testing.T) {
	store := newTestStore(t, 10)
	remote := newIdempotentRemote()
	engine := NewEngine(store, remote, Options{}, zerolog.Nop())
	tx := record(t, store, "INV-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := engine.SyncTransaction(ctx, tx.ID); !errors.Is(err, ErrSkipped) {
		t.Fatalf("expected skip, got %v", err)
	}
	got, _ := store.Get(context.Background(), tx.ID)
	if got.SyncAttemptCount != 0 || remote.pushes != 0 {
		t.Fatalf("skipped attempt must not count: %+v pushes=%d", got, remote.pushes)
	}
}

func TestSyncTransactionInFlightSurvivesCancel(t *testing.T) {
	store := newTestStore(t, 10)
	remote := newIdempotentRemote()
	remote.gate = make(chan struct{})
	engine := NewEngine(store, remote, Options{Timeout: 5 * time.Second}, zerolog.Nop())
	tx := record(t, store, "INV-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.SyncTransaction(ctx, tx.ID) }()

	waitFor(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return remote.inFlight == 1
	})
	cancel()
	close(remote.gate)

	if err := <-done; err != nil {
		t.Fatalf("in-flight attempt should finish despite cancel: %v", err)
	}
	got, _ := store.Get(context.Background(), tx.ID)
	if !got.Synced {
		t.Fatalf("expected synced, got %+v", got)
	}
}

func TestSyncAllPendingIndependentAndBounded(t *testing.T) {
	store := newTestStore(t, 10)
	remote := newIdempotentRemote()
	remote.delay = 10 * time.Millisecond
	remote.failFor["INV-3"] = true
	engine := NewEngine(store, remote, Options{Workers: 2, Timeout: time.Second}, zerolog.Nop())

	for i := 1; i <= 6; i++ {
		record(t, store, fmt.Sprintf("INV-%d", i))
	}

	sum, err := engine.SyncAllPending(context.Background())
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if sum.Synced != 5 || sum.Failed != 1 || len(sum.Errors) != 1 || sum.Errors[0].InvoiceNumber != "INV-3" {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if remote.maxFlight > 2 {
		t.Fatalf("concurrency %d exceeded worker limit 2", remote.maxFlight)
	}

	pending, _ := store.ListPending(context.Background(), 0)
	if len(pending) != 1 || pending[0].InvoiceNumber != "INV-3" {
		t.Fatalf("expected only INV-3 pending, got %+v", pending)
	}
}

func TestSyncAllPendingRespectsAttemptCeiling(t *testing.T) {
	store := newTestStore(t, 2)
	remote := newIdempotentRemote()
	remote.failFor["INV-1"] = true
	engine := NewEngine(store, remote, Options{Timeout: time.Second}, zerolog.Nop())
	tx := record(t, store, "INV-1")

	for i := 0; i < 3; i++ {
		if _, err := engine.SyncAllPending(context.Background()); err != nil {
			t.Fatalf("sync all: %v", err)
		}
	}
	if remote.pushes != 2 {
		t.Fatalf("expected automatic sync to stop at the ceiling, pushes=%d", remote.pushes)
	}
	failed, _ := store.ListFailed(context.Background())
	if len(failed) != 1 || failed[0].ID != tx.ID {
		t.Fatalf("expected transaction reported as failed, got %+v", failed)
	}

	// An operator can still force it once the remote recovers.
	delete(remote.failFor, "INV-1")
	if err := engine.SyncTransaction(context.Background(), tx.ID); err != nil {
		t.Fatalf("forced sync: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
