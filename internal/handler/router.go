package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/avolkov/agrosklad-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса агросклад.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/warehouses", h.CreateWarehouse)
			r.Get("/warehouses", h.ListWarehouses)
			r.Get("/warehouses/{id}", h.GetWarehouse)

			r.Post("/commodities", h.CreateCommodity)
			r.Get("/commodities", h.ListCommodities)
			r.Get("/commodities/{id}", h.GetCommodity)

			r.Post("/deposits", h.CreateDeposit)

			r.Get("/receipts", h.GetReceipts)
			r.Get("/receipts/{id}", h.GetReceipt)
			r.Post("/receipts/{id}/withdraw", h.InitiateWithdrawal)
			r.Post("/receipts/{id}/transfer", h.TransferReceipt)
			r.Get("/receipts/{id}/sacks", h.GetReceiptSacks)

			r.Get("/processes/{id}", h.GetProcess)
			r.Post("/processes/{id}/stages", h.UpdateWithdrawalStage)
			r.Post("/processes/{id}/complete", h.CompleteWithdrawal)

			r.Post("/sacks/{id}/movements", h.RecordSackMovement)
			r.Get("/sacks/{id}/movements", h.GetSackMovements)
			r.Post("/sacks/{id}/quality", h.UpdateSackQuality)

			r.Post("/loans", h.CreateLoan)
			r.Get("/loans", h.GetLoans)
			r.Get("/loans/{id}", h.GetLoan)
			r.Post("/loans/{id}/payments", h.RecordPayment)
			r.Get("/loans/{id}/payments", h.GetPayments)
			r.Post("/loans/{id}/default", h.MarkLoanDefaulted)

			r.Get("/portfolio", h.GetPortfolio)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
