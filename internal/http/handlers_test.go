package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"pharmacy/internal/domain"
	"pharmacy/internal/offline"
	"pharmacy/internal/service"
	"pharmacy/internal/storage"
	"pharmacy/internal/syncer"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	m := storage.NewMemory()
	err := m.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.UpsertProduct(ctx, domain.Product{
			ID: "para", Name: "Paracetamol 500mg", PriceUSD: decimal.RequireFromString("1.00"),
			TaxExempt: true, ReorderThreshold: 5,
		}); err != nil {
			return err
		}
		return tx.UpsertBatch(ctx, domain.Batch{
			ID: "para-1", ProductID: "para", WarehouseID: "main", LotNumber: "P1",
			ExpiryDate: time.Now().AddDate(1, 0, 0), Quantity: 6, OriginalQuantity: 6, Zone: domain.ZoneAvailable,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	st, err := offline.Open(ctx, filepath.Join(t.TempDir(), "offline.db"), 10)
	if err != nil {
		t.Fatalf("open offline store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := service.New(service.Deps{Store: m, Offline: st, Log: zerolog.Nop(), DefaultWarehouse: "main"})
	return NewRouter(NewHandler(svc, zerolog.Nop()))
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCheckoutAndFetchInvoice(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout",
		`{"items":[{"product_id":"para","quantity":2}],"payment_method":"cash","exchange_rate":"36.50"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d body=%s", rec.Code, rec.Body.String())
	}
	inv := decodeBody(t, rec)["invoice"].(map[string]any)
	if inv["total_usd"] != "2" || inv["total_local"] != "73" {
		t.Fatalf("unexpected totals: %v / %v", inv["total_usd"], inv["total_local"])
	}

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/v1/invoices/%s", inv["id"]), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get invoice status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/para/stock", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stock status = %d", rec.Code)
	}
	stock := decodeBody(t, rec)
	if stock["available"] != float64(4) || stock["low_stock"] != true {
		t.Fatalf("unexpected stock: %v", stock)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/offline/status", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["pending"] != float64(1) {
		t.Fatalf("offline status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestQuoteEndpoint(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/quote",
		`{"items":[{"product_id":"para","quantity":3}],"exchange_rate":"36.50"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("quote status = %d body=%s", rec.Code, rec.Body.String())
	}
	total := decodeBody(t, rec)["totals"].(map[string]any)["total"].(map[string]any)
	if total["usd"] != "3" || total["local"] != "109.5" {
		t.Fatalf("unexpected quote total: %v", total)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/quote",
		`{"items":[{"product_id":"para","quantity":7}],"exchange_rate":"36.50"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("over-stock quote status = %d", rec.Code)
	}
}

func TestCheckoutErrors(t *testing.T) {
	h := newTestServer(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown field", `{"items":[],"bogus":1}`, http.StatusBadRequest},
		{"empty cart", `{"items":[],"payment_method":"cash","exchange_rate":"36.5"}`, http.StatusBadRequest},
		{"insufficient stock", `{"items":[{"product_id":"para","quantity":9}],"payment_method":"cash","exchange_rate":"36.5"}`, http.StatusConflict},
		{"unknown product", `{"items":[{"product_id":"nope","quantity":1}],"payment_method":"cash","exchange_rate":"36.5"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusConflict {
				body := decodeBody(t, rec)
				if body["requested"] != float64(9) || body["available"] != float64(6) {
					t.Fatalf("missing shortage details: %v", body)
				}
			}
		})
	}
}

func TestSyncDisabled(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/offline/sync", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestImportBatchesUpload(t *testing.T) {
	h := newTestServer(t)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"SKU", "Lot", "Expiry", "Qty"},
		{"para", "P2", "2030-01-31", 10},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	xlsx, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "receiving.xlsx")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(xlsx.Bytes())
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["created"] != float64(1) || out["file_name"] != "receiving.xlsx" {
		t.Fatalf("unexpected import result: %v", out)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/para/stock", "")
	if decodeBody(t, rec)["available"] != float64(16) {
		t.Fatalf("imported batch not counted: %s", rec.Body.String())
	}
}

func TestImportWithoutFile(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/products/import", "{}")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad rate", domain.ErrValidation), http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrDuplicate, http.StatusConflict},
		{domain.ErrAllocationRace, http.StatusConflict},
		{syncer.ErrSkipped, http.StatusConflict},
		{domain.ErrInvalidRedemption, http.StatusUnprocessableEntity},
		{domain.ErrPaymentIncomplete, http.StatusUnprocessableEntity},
		{domain.ErrSyncFailure, http.StatusBadGateway},
		{service.ErrSyncDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParseOptionalInt(t *testing.T) {
	if v, err := parseOptionalInt("", 7); err != nil || v != 7 {
		t.Fatalf("default = %d, %v", v, err)
	}
	if v, err := parseOptionalInt(" 14 ", 7); err != nil || v != 14 {
		t.Fatalf("parsed = %d, %v", v, err)
	}
	for _, raw := range []string{"x", "-1"} {
		if _, err := parseOptionalInt(raw, 7); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
