package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
)

type loanRequest struct {
	ReceiptIDs    []string        `json:"receipt_ids"`
	Amount        decimal.Decimal `json:"amount"`
	AnnualRatePct decimal.Decimal `json:"annual_rate_pct"`
	TermMonths    int             `json:"term_months"`
}

type loanResponse struct {
	ID                string                `json:"id"`
	Amount            decimal.Decimal       `json:"amount"`
	AnnualRatePct     decimal.Decimal       `json:"annual_rate_pct"`
	TermMonths        int                   `json:"term_months"`
	CollateralIDs     []string              `json:"collateral_receipt_ids"`
	MonthlyPayment    decimal.Decimal       `json:"monthly_payment"`
	OutstandingAmount decimal.Decimal       `json:"outstanding_amount"`
	Status            string                `json:"status"`
	CreatedAt         string                `json:"created_at"`
	Schedule          []model.ScheduleEntry `json:"repayment_schedule,omitempty"`
}

func toLoanResponse(l *model.Loan, schedule []model.ScheduleEntry) loanResponse {
	collaterals := make([]string, 0, len(l.CollateralReceiptIDs))
	for _, id := range l.CollateralReceiptIDs {
		collaterals = append(collaterals, id.String())
	}

	return loanResponse{
		ID:                l.ID.String(),
		Amount:            l.Amount,
		AnnualRatePct:     l.AnnualRatePct,
		TermMonths:        l.TermMonths,
		CollateralIDs:     collaterals,
		MonthlyPayment:    l.MonthlyPayment,
		OutstandingAmount: l.OutstandingAmount,
		Status:            string(l.Status),
		CreatedAt:         l.CreatedAt.Format(time.RFC3339),
		Schedule:          schedule,
	}
}

// CreateLoan выдаёт займ под залог расписок текущего пользователя.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ReceiptIDs) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	receiptIDs := make([]uuid.UUID, 0, len(req.ReceiptIDs))
	for _, raw := range req.ReceiptIDs {
		id, ok := pathUUID(w, raw)
		if !ok {
			return
		}
		receiptIDs = append(receiptIDs, id)
	}

	loan, schedule, err := h.service.CreateLoan(r.Context(), uid, receiptIDs, req.Amount, req.AnnualRatePct, req.TermMonths)
	if err != nil {
		h.writeError(w, err, "create loan error")
		return
	}

	h.writeJSON(w, http.StatusCreated, toLoanResponse(loan, schedule))
}

// GetLoans возвращает займы текущего пользователя.
func (h *Handler) GetLoans(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	loans, err := h.service.GetLoansByUser(r.Context(), uid)
	if err != nil {
		h.writeError(w, err, "get loans error")
		return
	}

	if len(loans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]loanResponse, 0, len(loans))
	for i := range loans {
		resp = append(resp, toLoanResponse(&loans[i], nil))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetLoan возвращает займ текущего пользователя вместе с графиком погашения.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id, uid)
	if err != nil {
		h.writeError(w, err, "get loan error")
		return
	}

	schedule, err := h.service.GetLoanSchedule(r.Context(), id, uid)
	if err != nil {
		h.writeError(w, err, "get loan schedule error")
		return
	}

	h.writeJSON(w, http.StatusOK, toLoanResponse(loan, schedule))
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type paymentResponse struct {
	ID     string          `json:"id"`
	LoanID string          `json:"loan_id"`
	Amount decimal.Decimal `json:"amount"`
	PaidAt string          `json:"paid_at"`
}

// RecordPayment фиксирует платёж по займу текущего пользователя.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	loan, err := h.service.RecordPayment(r.Context(), id, uid, req.Amount)
	if err != nil {
		h.writeError(w, err, "record payment error")
		return
	}

	h.writeJSON(w, http.StatusOK, toLoanResponse(loan, nil))
}

// GetPayments возвращает платежи по займу текущего пользователя.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	payments, err := h.service.GetPaymentsByLoan(r.Context(), id, uid)
	if err != nil {
		h.writeError(w, err, "get payments error")
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, paymentResponse{
			ID:     p.ID.String(),
			LoanID: p.LoanID.String(),
			Amount: p.Amount,
			PaidAt: p.PaidAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// MarkLoanDefaulted переводит займ текущего пользователя в статус defaulted.
func (h *Handler) MarkLoanDefaulted(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.MarkLoanDefaulted(r.Context(), id, uid); err != nil {
		h.writeError(w, err, "mark loan defaulted error")
		return
	}

	w.WriteHeader(http.StatusOK)
}
