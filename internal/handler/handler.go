// Package handler содержит HTTP-обработчики API сервиса агросклад.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avolkov/agrosklad-system/internal/finance"
	"github.com/avolkov/agrosklad-system/internal/middleware"
	"github.com/avolkov/agrosklad-system/internal/model"
	"github.com/avolkov/agrosklad-system/internal/repository"
	"github.com/avolkov/agrosklad-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)

	CreateWarehouse(ctx context.Context, name, location string, capacityKg decimal.Decimal) (*model.Warehouse, error)
	GetWarehouse(ctx context.Context, id uuid.UUID) (*model.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]model.Warehouse, error)
	CreateCommodity(ctx context.Context, name, grade string, pricePerKg decimal.Decimal) (*model.Commodity, error)
	GetCommodity(ctx context.Context, id uuid.UUID) (*model.Commodity, error)
	ListCommodities(ctx context.Context) ([]model.Commodity, error)

	InitiateDeposit(ctx context.Context, userID int64, warehouseID, commodityID uuid.UUID, quantityKg decimal.Decimal) (*model.Process, *model.WarehouseReceipt, error)
	InitiateWithdrawal(ctx context.Context, receiptID uuid.UUID, userID int64, quantityKg *decimal.Decimal) (*model.Process, *model.WarehouseReceipt, bool, error)
	UpdateWithdrawalStage(ctx context.Context, processID uuid.UUID, stage string, status model.StageStatus) (*model.Process, error)
	CompleteWithdrawal(ctx context.Context, processID uuid.UUID) (*model.Process, error)
	GetProcess(ctx context.Context, processID uuid.UUID, userID int64) (*model.Process, error)
	GetReceipt(ctx context.Context, receiptID uuid.UUID, userID int64) (*model.WarehouseReceipt, error)
	GetReceiptsByUser(ctx context.Context, userID int64) ([]model.WarehouseReceipt, error)
	TransferReceipt(ctx context.Context, receiptID uuid.UUID, fromUserID int64, toLogin string) (*model.WarehouseReceipt, error)

	GetSacksByReceipt(ctx context.Context, receiptID uuid.UUID, userID int64) ([]model.CommoditySack, error)
	RecordSackMovement(ctx context.Context, sackID uuid.UUID, userID int64, toLocation, note string, newStatus model.SackStatus) (*model.SackMovement, error)
	GetSackMovements(ctx context.Context, sackID uuid.UUID, userID int64) ([]model.SackMovement, error)
	UpdateSackQuality(ctx context.Context, sackID uuid.UUID, userID int64, params map[string]string) error

	CreateLoan(ctx context.Context, borrowerID int64, receiptIDs []uuid.UUID, amount, annualRatePct decimal.Decimal, termMonths int) (*model.Loan, []model.ScheduleEntry, error)
	GetLoan(ctx context.Context, loanID uuid.UUID, userID int64) (*model.Loan, error)
	GetLoansByUser(ctx context.Context, userID int64) ([]model.Loan, error)
	GetLoanSchedule(ctx context.Context, loanID uuid.UUID, userID int64) ([]model.ScheduleEntry, error)
	RecordPayment(ctx context.Context, loanID uuid.UUID, userID int64, amount decimal.Decimal) (*model.Loan, error)
	GetPaymentsByLoan(ctx context.Context, loanID uuid.UUID, userID int64) ([]model.Payment, error)
	MarkLoanDefaulted(ctx context.Context, loanID uuid.UUID, userID int64) error

	GetPortfolioSummary(ctx context.Context, userID int64) (*model.PortfolioSummary, error)
}

// Handler реализует HTTP-обработчики API сервиса агросклад.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrUserExists):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrWarehouseNotFound),
		errors.Is(err, repository.ErrCommodityNotFound),
		errors.Is(err, repository.ErrReceiptNotFound),
		errors.Is(err, repository.ErrProcessNotFound),
		errors.Is(err, repository.ErrSackNotFound),
		errors.Is(err, repository.ErrLoanNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrNotOwner):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, repository.ErrReceiptNotActive),
		errors.Is(err, repository.ErrProcessNotCompletable),
		errors.Is(err, repository.ErrProcessAlreadyCompleted),
		errors.Is(err, repository.ErrLoanNotActive):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidStage),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, finance.ErrInvalidTerms):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrInsufficientCollateral):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// userID извлекает идентификатор пользователя из контекста запроса.
func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

// pathUUID разбирает UUID из параметра маршрута.
func pathUUID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// GetPortfolio возвращает сводку по портфелю текущего пользователя.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetPortfolioSummary(r.Context(), uid)
	if err != nil {
		h.writeError(w, err, "get portfolio error")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}
