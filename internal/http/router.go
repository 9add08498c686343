package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(handler.log))
	r.Use(Recoverer(handler.log))
	r.Use(Timeout)
	r.Use(CORS)

	r.Get("/healthz", handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", handler.Checkout)
		r.Post("/quote", handler.Quote)
		r.Get("/invoices/{id}", handler.GetInvoice)
		r.Post("/invoices/{id}/queue", handler.QueueInvoice)

		r.Get("/products/{id}/stock", handler.ProductStock)
		r.Post("/products/import", handler.ImportProducts)
		r.Post("/batches/import", handler.ImportBatches)

		r.Get("/offline/status", handler.OfflineStatus)
		r.Get("/offline/transactions", handler.OfflineTransactions)
		r.Post("/offline/sync", handler.SyncPending)
		r.Post("/offline/transactions/{id}/sync", handler.SyncTransaction)

		r.Get("/loyalty/{patientID}/{programID}", handler.LoyaltyAccount)
		r.Post("/loyalty/redeem", handler.RedeemPoints)
		r.Post("/loyalty/adjust", handler.AdjustPoints)

		r.Get("/consignments/overdue", handler.OverdueConsignments)
		r.Get("/consignments/due-soon", handler.ConsignmentsDueSoon)
		r.Post("/consignments/{id}/sales", handler.RecordConsignmentSale)
		r.Post("/consignments/{id}/returns", handler.ReturnConsignmentItems)
		r.Get("/consignments/{id}/payment-due", handler.ConsignmentPaymentDue)

		r.Post("/deliveries", handler.CreateDelivery)
		r.Get("/deliveries/on-time-rate", handler.DeliveryOnTimeRate)
		r.Patch("/deliveries/{id}/status", handler.AdvanceDelivery)
	})

	return r
}
