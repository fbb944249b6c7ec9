package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avolkov/agrosklad-system/internal/middleware"
	"github.com/avolkov/agrosklad-system/internal/model"
	"github.com/avolkov/agrosklad-system/internal/repository"
	"github.com/avolkov/agrosklad-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	receiptsResp []model.WarehouseReceipt
	receiptsErr  error

	withdrawProcess *model.Process
	withdrawReceipt *model.WarehouseReceipt
	withdrawPartial bool
	withdrawErr     error

	processResp *model.Process
	processErr  error

	depositErr error

	loanResp     *model.Loan
	scheduleResp []model.ScheduleEntry
	loanErr      error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) CreateWarehouse(ctx context.Context, name, location string, capacityKg decimal.Decimal) (*model.Warehouse, error) {
	return &model.Warehouse{ID: uuid.New(), Name: name, Location: location, CapacityKg: capacityKg}, nil
}

func (s *stubService) GetWarehouse(ctx context.Context, id uuid.UUID) (*model.Warehouse, error) {
	return &model.Warehouse{ID: id}, nil
}

func (s *stubService) ListWarehouses(ctx context.Context) ([]model.Warehouse, error) {
	return nil, nil
}

func (s *stubService) CreateCommodity(ctx context.Context, name, grade string, pricePerKg decimal.Decimal) (*model.Commodity, error) {
	return &model.Commodity{ID: uuid.New(), Name: name, Grade: grade, PricePerKg: pricePerKg}, nil
}

func (s *stubService) GetCommodity(ctx context.Context, id uuid.UUID) (*model.Commodity, error) {
	return &model.Commodity{ID: id}, nil
}

func (s *stubService) ListCommodities(ctx context.Context) ([]model.Commodity, error) {
	return nil, nil
}

func (s *stubService) InitiateDeposit(ctx context.Context, userID int64, warehouseID, commodityID uuid.UUID, quantityKg decimal.Decimal) (*model.Process, *model.WarehouseReceipt, error) {
	if s.depositErr != nil {
		return nil, nil, s.depositErr
	}
	return sampleProcess(model.ProcessTypeDeposit), sampleReceipt(userID), nil
}

func (s *stubService) InitiateWithdrawal(ctx context.Context, receiptID uuid.UUID, userID int64, quantityKg *decimal.Decimal) (*model.Process, *model.WarehouseReceipt, bool, error) {
	return s.withdrawProcess, s.withdrawReceipt, s.withdrawPartial, s.withdrawErr
}

func (s *stubService) UpdateWithdrawalStage(ctx context.Context, processID uuid.UUID, stage string, status model.StageStatus) (*model.Process, error) {
	return s.processResp, s.processErr
}

func (s *stubService) CompleteWithdrawal(ctx context.Context, processID uuid.UUID) (*model.Process, error) {
	return s.processResp, s.processErr
}

func (s *stubService) GetProcess(ctx context.Context, processID uuid.UUID, userID int64) (*model.Process, error) {
	return s.processResp, s.processErr
}

func (s *stubService) GetReceipt(ctx context.Context, receiptID uuid.UUID, userID int64) (*model.WarehouseReceipt, error) {
	if s.receiptsErr != nil {
		return nil, s.receiptsErr
	}
	if len(s.receiptsResp) == 0 {
		return nil, repository.ErrReceiptNotFound
	}
	return &s.receiptsResp[0], nil
}

func (s *stubService) GetReceiptsByUser(ctx context.Context, userID int64) ([]model.WarehouseReceipt, error) {
	return s.receiptsResp, s.receiptsErr
}

func (s *stubService) TransferReceipt(ctx context.Context, receiptID uuid.UUID, fromUserID int64, toLogin string) (*model.WarehouseReceipt, error) {
	if s.receiptsErr != nil {
		return nil, s.receiptsErr
	}
	return sampleReceipt(2), nil
}

func (s *stubService) GetSacksByReceipt(ctx context.Context, receiptID uuid.UUID, userID int64) ([]model.CommoditySack, error) {
	return nil, nil
}

func (s *stubService) RecordSackMovement(ctx context.Context, sackID uuid.UUID, userID int64, toLocation, note string, newStatus model.SackStatus) (*model.SackMovement, error) {
	return &model.SackMovement{ID: uuid.New(), SackID: sackID, ToLocation: toLocation, Note: note, MovedAt: time.Now()}, nil
}

func (s *stubService) GetSackMovements(ctx context.Context, sackID uuid.UUID, userID int64) ([]model.SackMovement, error) {
	return nil, nil
}

func (s *stubService) UpdateSackQuality(ctx context.Context, sackID uuid.UUID, userID int64, params map[string]string) error {
	return nil
}

func (s *stubService) CreateLoan(ctx context.Context, borrowerID int64, receiptIDs []uuid.UUID, amount, annualRatePct decimal.Decimal, termMonths int) (*model.Loan, []model.ScheduleEntry, error) {
	return s.loanResp, s.scheduleResp, s.loanErr
}

func (s *stubService) GetLoan(ctx context.Context, loanID uuid.UUID, userID int64) (*model.Loan, error) {
	return s.loanResp, s.loanErr
}

func (s *stubService) GetLoansByUser(ctx context.Context, userID int64) ([]model.Loan, error) {
	return nil, nil
}

func (s *stubService) GetLoanSchedule(ctx context.Context, loanID uuid.UUID, userID int64) ([]model.ScheduleEntry, error) {
	return s.scheduleResp, nil
}

func (s *stubService) RecordPayment(ctx context.Context, loanID uuid.UUID, userID int64, amount decimal.Decimal) (*model.Loan, error) {
	return s.loanResp, s.loanErr
}

func (s *stubService) GetPaymentsByLoan(ctx context.Context, loanID uuid.UUID, userID int64) ([]model.Payment, error) {
	return nil, nil
}

func (s *stubService) MarkLoanDefaulted(ctx context.Context, loanID uuid.UUID, userID int64) error {
	return s.loanErr
}

func (s *stubService) GetPortfolioSummary(ctx context.Context, userID int64) (*model.PortfolioSummary, error) {
	return &model.PortfolioSummary{}, nil
}

func sampleReceipt(ownerID int64) *model.WarehouseReceipt {
	now := time.Now()
	return &model.WarehouseReceipt{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		ReceiptNumber: "79927398713",
		CommodityID:   uuid.New(),
		WarehouseID:   uuid.New(),
		QuantityKg:    decimal.NewFromInt(100),
		Valuation:     decimal.NewFromInt(2000),
		Status:        model.ReceiptStatusActive,
		Liens:         map[string]string{},
		IssuedAt:      now,
		ExpiresAt:     now.Add(24 * time.Hour),
	}
}

func sampleProcess(t model.ProcessType) *model.Process {
	stages := model.StagesForType(t)
	progress := make(map[string]model.StageStatus, len(stages))
	for _, stage := range stages {
		progress[stage] = model.StageStatusPending
	}
	return &model.Process{
		ID:            uuid.New(),
		Type:          t,
		Status:        model.ProcessStatusPending,
		ReceiptID:     uuid.New(),
		CurrentStage:  stages[0],
		StageProgress: progress,
		CreatedAt:     time.Now(),
	}
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

// authRequest прогоняет запрос через маршрутизатор с auth-cookie пользователя 1.
func authRequest(t *testing.T, h *Handler, method, target string, body []byte) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)

	cookieRec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(cookieRec, 1)
	req.AddCookie(cookieRec.Result().Cookies()[0])

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
}

func TestRegister_ConflictOnDuplicate(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrUserExists}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_UnauthorizedOnBadCredentials(t *testing.T) {
	svc := &stubService{authErr: repository.ErrUserNotFound}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetReceipts_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/receipts", nil)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetReceipts_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{receiptsResp: []model.WarehouseReceipt{}})

	res := authRequest(t, h, http.MethodGet, "/api/receipts", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestInitiateWithdrawal_Accepted(t *testing.T) {
	receipt := sampleReceipt(1)
	svc := &stubService{
		withdrawProcess: sampleProcess(model.ProcessTypeWithdrawal),
		withdrawReceipt: receipt,
		withdrawPartial: true,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(map[string]string{"quantity_kg": "40"})
	res := authRequest(t, h, http.MethodPost, "/api/receipts/"+receipt.ID.String()+"/withdraw", body)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}

	var resp withdrawResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Partial {
		t.Fatalf("expected partial withdrawal in response")
	}
}

func TestInitiateWithdrawal_ConflictWhenNotActive(t *testing.T) {
	svc := &stubService{withdrawErr: repository.ErrReceiptNotActive}
	h := newTestHandler(t, svc)

	res := authRequest(t, h, http.MethodPost, "/api/receipts/"+uuid.NewString()+"/withdraw", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestUpdateWithdrawalStage_RejectsUnknownStatus(t *testing.T) {
	h := newTestHandler(t, &stubService{processResp: sampleProcess(model.ProcessTypeWithdrawal)})

	body, _ := json.Marshal(stageUpdateRequest{Stage: "verification", Status: "misplaced"})
	res := authRequest(t, h, http.MethodPost, "/api/processes/"+uuid.NewString()+"/stages", body)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestCreateDeposit_UnprocessableQuantity(t *testing.T) {
	svc := &stubService{depositErr: service.ErrInvalidQuantity}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(depositRequest{
		WarehouseID: uuid.NewString(),
		CommodityID: uuid.NewString(),
		QuantityKg:  decimal.NewFromInt(73),
	})
	res := authRequest(t, h, http.MethodPost, "/api/deposits", body)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestCreateLoan_PaymentRequiredOnThinCollateral(t *testing.T) {
	svc := &stubService{loanErr: service.ErrInsufficientCollateral}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loanRequest{
		ReceiptIDs: []string{uuid.NewString()},
		Amount:     decimal.NewFromInt(100000),
		TermMonths: 12,
	})
	res := authRequest(t, h, http.MethodPost, "/api/loans", body)
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}
}

func TestGetLoan_NotFound(t *testing.T) {
	svc := &stubService{loanErr: repository.ErrLoanNotFound}
	h := newTestHandler(t, svc)

	res := authRequest(t, h, http.MethodGet, "/api/loans/"+uuid.NewString(), nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
