package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pharmacy/internal/delivery"
	"pharmacy/internal/domain"
	"pharmacy/internal/excel"
	"pharmacy/internal/loyalty"
	"pharmacy/internal/service"
	"pharmacy/internal/syncer"
)

const maxUploadBytes = 32 << 20

type Handler struct {
	svc *service.Service
	log zerolog.Logger
}

func NewHandler(svc *service.Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With().Str("component", "http").Logger()}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.Checkout(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req service.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := h.svc.Quote(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) QueueInvoice(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.QueueInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) ProductStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.svc.ProductStock(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(r.URL.Query().Get("warehouse_id")))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (h *Handler) ImportBatches(w http.ResponseWriter, r *http.Request) {
	file, name, ok := formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	warehouse := strings.TrimSpace(r.FormValue("warehouse_id"))
	if warehouse == "" {
		warehouse = h.svc.DefaultWarehouse()
	}
	rows, err := excel.ParseBatchRows(file, warehouse)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.ImportBatches(r.Context(), rows)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":  name,
		"total_rows": len(rows),
		"created":    result.Created,
		"updated":    result.Updated,
	})
}

func (h *Handler) ImportProducts(w http.ResponseWriter, r *http.Request) {
	file, name, ok := formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	rows, err := excel.ParseProductRows(name, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.ImportProducts(r.Context(), rows)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":  name,
		"total_rows": len(rows),
		"created":    result.Created,
		"updated":    result.Updated,
	})
}

func (h *Handler) OfflineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.OfflineStatus(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) OfflineTransactions(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.OfflineTransactions(r.Context(), strings.TrimSpace(r.URL.Query().Get("state")))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) SyncPending(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.SyncPending(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) SyncTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.SyncTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) LoyaltyAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.LoyaltyAccount(r.Context(), chi.URLParam(r, "patientID"), chi.URLParam(r, "programID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	var req loyalty.RedeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	redemption, err := h.svc.RedeemPoints(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

type adjustPointsRequest struct {
	PatientID string `json:"patient_id"`
	ProgramID string `json:"program_id"`
	Delta     int64  `json:"delta"`
	Notes     string `json:"notes"`
}

func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req adjustPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.svc.AdjustPoints(r.Context(), req.PatientID, req.ProgramID, req.Delta, req.Notes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type consignmentMovementRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) RecordConsignmentSale(w http.ResponseWriter, r *http.Request) {
	var req consignmentMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.svc.RecordConsignmentSale(r.Context(), chi.URLParam(r, "id"), req.ProductID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ReturnConsignmentItems(w http.ResponseWriter, r *http.Request) {
	var req consignmentMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.svc.ReturnConsignmentItems(r.Context(), chi.URLParam(r, "id"), req.ProductID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ConsignmentPaymentDue(w http.ResponseWriter, r *http.Request) {
	due, err := h.svc.ConsignmentPaymentDue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, due)
}

func (h *Handler) OverdueConsignments(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.OverdueConsignments(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) ConsignmentsDueSoon(w http.ResponseWriter, r *http.Request) {
	days, err := parseOptionalInt(r.URL.Query().Get("days"), 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ConsignmentsDueSoon(r.Context(), days)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req delivery.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.svc.CreateDelivery(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type advanceDeliveryRequest struct {
	Status domain.DeliveryStatus `json:"status"`
	Note   string                `json:"note"`
	UserID *string               `json:"user_id"`
}

func (h *Handler) AdvanceDelivery(w http.ResponseWriter, r *http.Request) {
	var req advanceDeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.svc.AdvanceDelivery(r.Context(), chi.URLParam(r, "id"), req.Status, req.Note, req.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) DeliveryOnTimeRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.svc.DeliveryOnTimeRate(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"on_time_rate": rate})
}

// writeServiceError is the single place domain errors become status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var short *domain.InsufficientStockError
	if errors.As(err, &short) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":        err.Error(),
			"product_id":   short.ProductID,
			"warehouse_id": short.WarehouseID,
			"requested":    short.Requested,
			"available":    short.Available,
		})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrAllocationRace),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, syncer.ErrSkipped):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRedemption),
		errors.Is(err, domain.ErrInvalidConsignmentOperation),
		errors.Is(err, domain.ErrPrescriptionRequired),
		errors.Is(err, domain.ErrPaymentIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSyncFailure):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrSyncDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func formFile(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return nil, "", false
	}
	return file, header.Filename, true
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseOptionalInt(raw string, defaultValue int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", raw)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("value cannot be negative")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
