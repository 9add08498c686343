// Package offline keeps a durable local record of every completed sale so
// the point of sale never waits on the network. Records move through
// pending -> syncing -> synced, falling back to pending on failure.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"pharmacy/internal/domain"
)

// ErrNotClaimable is returned by Claim when the transaction is not pending.
var ErrNotClaimable = errors.New("transaction is not pending")

var schema = []string{`
CREATE TABLE IF NOT EXISTS offline_transactions (
	id                 TEXT PRIMARY KEY,
	invoice_id         TEXT NOT NULL,
	invoice_number     TEXT NOT NULL UNIQUE,
	payload            TEXT NOT NULL,
	total_usd          TEXT NOT NULL,
	total_local        TEXT NOT NULL,
	payment_method     TEXT NOT NULL,
	synced             INTEGER NOT NULL DEFAULT 0,
	sync_state         TEXT NOT NULL DEFAULT 'pending',
	sync_attempt_count INTEGER NOT NULL DEFAULT 0,
	last_sync_attempt  INTEGER,
	sync_error         TEXT,
	created_at         INTEGER NOT NULL,
	synced_at          INTEGER
)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_transactions_state
	ON offline_transactions (sync_state, created_at)`,
}

const columns = `
	id,
	invoice_id,
	invoice_number,
	payload,
	total_usd,
	total_local,
	payment_method,
	synced,
	sync_state,
	sync_attempt_count,
	last_sync_attempt,
	sync_error,
	created_at,
	synced_at
`

type Store struct {
	db          *sqlx.DB
	maxAttempts int
	now         func() time.Time
}

// Open connects to the SQLite file at path and creates the schema.
// maxAttempts is the retry ceiling past which a transaction is reported as
// failed and left out of automatic sync.
func Open(ctx context.Context, path string, maxAttempts int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open offline store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=FULL"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure offline store: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate offline store: %w", err)
		}
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Store{db: db, maxAttempts: maxAttempts, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// Record stores inv as a pending transaction. Recording the same invoice
// number twice returns the existing transaction unchanged.
func (s *Store) Record(ctx context.Context, inv domain.Invoice) (domain.OfflineTransaction, error) {
	if inv.InvoiceNumber == "" {
		return domain.OfflineTransaction{}, domain.Validationf("invoice_number is required")
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return domain.OfflineTransaction{}, fmt.Errorf("encode invoice %s: %w", inv.InvoiceNumber, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_transactions (
			id,
			invoice_id,
			invoice_number,
			payload,
			total_usd,
			total_local,
			payment_method,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (invoice_number) DO NOTHING
	`, uuid.NewString(), inv.ID, inv.InvoiceNumber, string(payload),
		inv.TotalUSD.String(), inv.TotalLocal.String(), string(inv.PaymentMethod), s.now().UnixMilli())
	if err != nil {
		return domain.OfflineTransaction{}, fmt.Errorf("record offline transaction %s: %w", inv.InvoiceNumber, err)
	}
	return s.GetByInvoiceNumber(ctx, inv.InvoiceNumber)
}

func (s *Store) Get(ctx context.Context, id string) (domain.OfflineTransaction, error) {
	return s.getOne(ctx, `SELECT`+columns+`FROM offline_transactions WHERE id = ?`, id)
}

func (s *Store) GetByInvoiceNumber(ctx context.Context, number string) (domain.OfflineTransaction, error) {
	return s.getOne(ctx, `SELECT`+columns+`FROM offline_transactions WHERE invoice_number = ?`, number)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (domain.OfflineTransaction, error) {
	var r row
	if err := s.db.GetContext(ctx, &r, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OfflineTransaction{}, fmt.Errorf("offline transaction %v: %w", arg, domain.ErrNotFound)
		}
		return domain.OfflineTransaction{}, fmt.Errorf("get offline transaction %v: %w", arg, err)
	}
	return r.toDomain()
}

// Claim moves a pending transaction to syncing and counts the attempt.
// Only one caller can win the claim for a given id.
func (s *Store) Claim(ctx context.Context, id string) (domain.OfflineTransaction, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_transactions
		SET sync_state = 'syncing',
			sync_attempt_count = sync_attempt_count + 1,
			last_sync_attempt = ?
		WHERE id = ? AND sync_state = 'pending'
	`, s.now().UnixMilli(), id)
	if err != nil {
		return domain.OfflineTransaction{}, fmt.Errorf("claim offline transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.OfflineTransaction{}, fmt.Errorf("claim offline transaction %s: %w", id, err)
	}
	if n == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return domain.OfflineTransaction{}, err
		}
		return domain.OfflineTransaction{}, fmt.Errorf("claim %s in state %s: %w", id, current.SyncState, ErrNotClaimable)
	}
	return s.Get(ctx, id)
}

func (s *Store) MarkSynced(ctx context.Context, id string) error {
	return s.resolve(ctx, id, `
		UPDATE offline_transactions
		SET sync_state = 'synced',
			synced = 1,
			synced_at = ?,
			sync_error = NULL
		WHERE id = ? AND sync_state = 'syncing'
	`, s.now().UnixMilli(), id)
}

// MarkFailed returns a syncing transaction to pending and records cause.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.resolve(ctx, id, `
		UPDATE offline_transactions
		SET sync_state = 'pending',
			sync_error = ?
		WHERE id = ? AND sync_state = 'syncing'
	`, msg, id)
}

func (s *Store) resolve(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve offline transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve offline transaction %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve %s: not syncing: %w", id, ErrNotClaimable)
	}
	return nil
}

// ListPending returns pending transactions under the attempt ceiling,
// oldest first. limit <= 0 means no limit.
func (s *Store) ListPending(ctx context.Context, limit int) ([]domain.OfflineTransaction, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.list(ctx, `SELECT`+columns+`FROM offline_transactions
		WHERE sync_state = 'pending' AND sync_attempt_count < ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, s.maxAttempts, limit)
}

// ListFailed returns pending transactions that reached the attempt ceiling.
// They stay pending in storage and can still be synced on request.
func (s *Store) ListFailed(ctx context.Context) ([]domain.OfflineTransaction, error) {
	return s.list(ctx, `SELECT`+columns+`FROM offline_transactions
		WHERE sync_state = 'pending' AND sync_attempt_count >= ?
		ORDER BY created_at ASC, rowid ASC`, s.maxAttempts)
}

// ListByState accepts pending, syncing, synced or failed.
func (s *Store) ListByState(ctx context.Context, state string) ([]domain.OfflineTransaction, error) {
	switch state {
	case "failed":
		return s.ListFailed(ctx)
	case string(domain.SyncPending):
		return s.ListPending(ctx, 0)
	case string(domain.SyncSyncing), string(domain.SyncSynced):
		return s.list(ctx, `SELECT`+columns+`FROM offline_transactions
			WHERE sync_state = ?
			ORDER BY created_at ASC, rowid ASC`, state)
	default:
		return nil, domain.Validationf("unknown sync state %q", state)
	}
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]domain.OfflineTransaction, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list offline transactions: %w", err)
	}
	out := make([]domain.OfflineTransaction, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// RecoverStale returns transactions stuck in syncing for longer than age to
// pending. A crash mid-attempt leaves them there.
func (s *Store) RecoverStale(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().Add(-age).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_transactions
		SET sync_state = 'pending',
			sync_error = 'attempt interrupted'
		WHERE sync_state = 'syncing' AND last_sync_attempt <= ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale offline transactions: %w", err)
	}
	return res.RowsAffected()
}

type Status struct {
	Pending       int        `json:"pending"`
	Syncing       int        `json:"syncing"`
	Synced        int        `json:"synced"`
	Failed        int        `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

func (s *Store) Status(ctx context.Context) (Status, error) {
	var counts struct {
		Pending sql.NullInt64 `db:"pending"`
		Syncing sql.NullInt64 `db:"syncing"`
		Synced  sql.NullInt64 `db:"synced"`
		Failed  sql.NullInt64 `db:"failed"`
		Oldest  sql.NullInt64 `db:"oldest"`
	}
	err := s.db.GetContext(ctx, &counts, `
		SELECT
			SUM(CASE WHEN sync_state = 'pending' AND sync_attempt_count < ? THEN 1 ELSE 0 END) AS pending,
			SUM(CASE WHEN sync_state = 'syncing' THEN 1 ELSE 0 END) AS syncing,
			SUM(CASE WHEN sync_state = 'synced' THEN 1 ELSE 0 END) AS synced,
			SUM(CASE WHEN sync_state = 'pending' AND sync_attempt_count >= ? THEN 1 ELSE 0 END) AS failed,
			MIN(CASE WHEN sync_state = 'pending' THEN created_at END) AS oldest
		FROM offline_transactions
	`, s.maxAttempts, s.maxAttempts)
	if err != nil {
		return Status{}, fmt.Errorf("offline status: %w", err)
	}

	st := Status{
		Pending: int(counts.Pending.Int64),
		Syncing: int(counts.Syncing.Int64),
		Synced:  int(counts.Synced.Int64),
		Failed:  int(counts.Failed.Int64),
	}
	if counts.Oldest.Valid {
		t := time.UnixMilli(counts.Oldest.Int64).UTC()
		st.OldestPending = &t
	}
	return st, nil
}

type row struct {
	ID               string         `db:"id"`
	InvoiceID        string         `db:"invoice_id"`
	InvoiceNumber    string         `db:"invoice_number"`
	Payload          string         `db:"payload"`
	TotalUSD         string         `db:"total_usd"`
	TotalLocal       string         `db:"total_local"`
	PaymentMethod    string         `db:"payment_method"`
	Synced           bool           `db:"synced"`
	SyncState        string         `db:"sync_state"`
	SyncAttemptCount int            `db:"sync_attempt_count"`
	LastSyncAttempt  sql.NullInt64  `db:"last_sync_attempt"`
	SyncError        sql.NullString `db:"sync_error"`
	CreatedAt        int64          `db:"created_at"`
	SyncedAt         sql.NullInt64  `db:"synced_at"`
}

func (r row) toDomain() (domain.OfflineTransaction, error) {
	t := domain.OfflineTransaction{
		ID:               r.ID,
		InvoiceID:        r.InvoiceID,
		InvoiceNumber:    r.InvoiceNumber,
		PaymentMethod:    domain.PaymentMethod(r.PaymentMethod),
		Synced:           r.Synced,
		SyncState:        domain.SyncState(r.SyncState),
		SyncAttemptCount: r.SyncAttemptCount,
		LastSyncAttempt:  millisPtr(r.LastSyncAttempt),
		CreatedAt:        time.UnixMilli(r.CreatedAt).UTC(),
		SyncedAt:         millisPtr(r.SyncedAt),
	}
	if r.SyncError.Valid {
		msg := r.SyncError.String
		t.SyncError = &msg
	}

	var err error
	if t.TotalUSD, err = decimal.NewFromString(r.TotalUSD); err != nil {
		return t, fmt.Errorf("decode total_usd of %s: %w", r.ID, err)
	}
	if t.TotalLocal, err = decimal.NewFromString(r.TotalLocal); err != nil {
		return t, fmt.Errorf("decode total_local of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Payload), &t.Invoice); err != nil {
		return t, fmt.Errorf("decode payload of %s: %w", r.ID, err)
	}
	return t, nil
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
