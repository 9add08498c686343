package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
)

func TestNotFoundMapsNoRows(t *testing.T) {
	if err := notFound(pgx.ErrNoRows, "batch", "b-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	boom := errors.New("connection reset")
	err := notFound(boom, "batch", "b-1")
	if errors.Is(err, domain.ErrNotFound) || !errors.Is(err, boom) {
		t.Fatalf("unexpected mapping: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "23505"}, true},
		{fmt.Errorf("insert invoice: %w", &pgconn.PgError{Code: "23505"}), true},
		{&pgconn.PgError{Code: "23503"}, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestAsRace(t *testing.T) {
	tests := []struct {
		name string
		err  error
		race bool
	}{
		{"deadlock", fmt.Errorf("lock batches: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := asRace(tt.err)
			if errors.Is(got, domain.ErrAllocationRace) != tt.race {
				t.Fatalf("asRace(%v) = %v, race want %v", tt.err, got, tt.race)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("original error lost: %v", got)
			}
		})
	}
}

func TestNumRendersPlainDecimal(t *testing.T) {
	if got := num(decimal.RequireFromString("36.50")); got != "36.5" {
		t.Fatalf("num = %q", got)
	}
	if got := num(decimal.Zero); got != "0" {
		t.Fatalf("num(0) = %q", got)
	}
}

func TestNonNil(t *testing.T) {
	var items []domain.Payment
	if got := nonNil(items); got == nil || len(got) != 0 {
		t.Fatalf("nonNil returned %v", got)
	}
}
