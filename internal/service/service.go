// Package service реализует бизнес-логику сервиса агросклад.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/ledger"
	"github.com/avolkov/agrosklad-system/internal/model"
	"github.com/avolkov/agrosklad-system/internal/quality"
	"github.com/avolkov/agrosklad-system/internal/repository"
	"github.com/avolkov/agrosklad-system/internal/validation"
)

// ErrNotOwner возвращается при попытке операции над чужой сущностью.
var (
	ErrNotOwner = errors.New("not authorized for this entity")
	// ErrInvalidQuantity возвращается для некорректного количества.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidStage возвращается для неизвестного этапа процесса.
	ErrInvalidStage = errors.New("unknown process stage")
	// ErrInvalidAmount возвращается для некорректной суммы.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientCollateral возвращается, когда оценка залога не покрывает сумму займа.
	ErrInsufficientCollateral = errors.New("insufficient collateral valuation")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	CreateWarehouse(ctx context.Context, w *model.Warehouse) error
	GetWarehouse(ctx context.Context, id uuid.UUID) (*model.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]model.Warehouse, error)
	CreateCommodity(ctx context.Context, c *model.Commodity) error
	GetCommodity(ctx context.Context, id uuid.UUID) (*model.Commodity, error)
	ListCommodities(ctx context.Context) ([]model.Commodity, error)

	CreateDeposit(ctx context.Context, receipt *model.WarehouseReceipt, process *model.Process, sacks []model.CommoditySack) error
	GetReceipt(ctx context.Context, id uuid.UUID) (*model.WarehouseReceipt, error)
	GetReceiptsByOwner(ctx context.Context, ownerID int64) ([]model.WarehouseReceipt, error)
	BeginWithdrawal(ctx context.Context, process *model.Process, liens map[string]string) error
	GetProcess(ctx context.Context, id uuid.UUID) (*model.Process, error)
	UpdateProcessProgress(ctx context.Context, p *model.Process) error
	FinishWithdrawal(ctx context.Context, processID uuid.UUID, remainder *model.WarehouseReceipt, releaseSacks int) error
	TransferReceipt(ctx context.Context, originalID uuid.UUID, replacement *model.WarehouseReceipt) error

	GetSack(ctx context.Context, id uuid.UUID) (*model.CommoditySack, error)
	GetSacksByReceipt(ctx context.Context, receiptID uuid.UUID) ([]model.CommoditySack, error)
	ListStoredSackCodes(ctx context.Context, limit int) ([]string, error)
	UpdateSackQuality(ctx context.Context, sackID uuid.UUID, params map[string]string) error
	UpdateSackQualityByCode(ctx context.Context, sackCode string, params map[string]string) error
	AddSackMovement(ctx context.Context, m *model.SackMovement, newStatus model.SackStatus) error
	GetSackMovements(ctx context.Context, sackID uuid.UUID) ([]model.SackMovement, error)

	CreateLoan(ctx context.Context, loan *model.Loan, schedule []model.ScheduleEntry) error
	GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error)
	GetLoansByBorrower(ctx context.Context, borrowerID int64) ([]model.Loan, error)
	GetLoanSchedule(ctx context.Context, loanID uuid.UUID) ([]model.ScheduleEntry, error)
	CreatePayment(ctx context.Context, p *model.Payment) (*model.Loan, error)
	GetPaymentsByLoan(ctx context.Context, loanID uuid.UUID) ([]model.Payment, error)
	MarkLoanDefaulted(ctx context.Context, loanID uuid.UUID) error

	GetPortfolioSummary(ctx context.Context, userID int64) (*model.PortfolioSummary, error)
}

// Service содержит бизнес-логику сервиса агросклад.
type Service struct {
	repo          Repository
	qualityClient *quality.Client
	recorder      ledger.Recorder
}

// NewService создаёт новый сервис с указанным репозиторием, клиентом системы
// оценки качества и реализацией внешнего реестра.
func NewService(repo Repository, qualityClient *quality.Client, recorder ledger.Recorder) *Service {
	return &Service{
		repo:          repo,
		qualityClient: qualityClient,
		recorder:      recorder,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateWarehouse регистрирует новый склад.
func (s *Service) CreateWarehouse(ctx context.Context, name, location string, capacityKg decimal.Decimal) (*model.Warehouse, error) {
	if capacityKg.Sign() < 0 {
		return nil, ErrInvalidQuantity
	}

	w := &model.Warehouse{
		ID:         uuid.New(),
		Name:       name,
		Location:   location,
		CapacityKg: capacityKg,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.CreateWarehouse(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// GetWarehouse возвращает склад по идентификатору.
func (s *Service) GetWarehouse(ctx context.Context, id uuid.UUID) (*model.Warehouse, error) {
	return s.repo.GetWarehouse(ctx, id)
}

// ListWarehouses возвращает все склады.
func (s *Service) ListWarehouses(ctx context.Context) ([]model.Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

// CreateCommodity регистрирует новый вид продукции.
func (s *Service) CreateCommodity(ctx context.Context, name, grade string, pricePerKg decimal.Decimal) (*model.Commodity, error) {
	if pricePerKg.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	c := &model.Commodity{
		ID:         uuid.New(),
		Name:       name,
		Grade:      grade,
		PricePerKg: pricePerKg,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.CreateCommodity(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommodity возвращает вид продукции по идентификатору.
func (s *Service) GetCommodity(ctx context.Context, id uuid.UUID) (*model.Commodity, error) {
	return s.repo.GetCommodity(ctx, id)
}

// ListCommodities возвращает все виды продукции.
func (s *Service) ListCommodities(ctx context.Context) ([]model.Commodity, error) {
	return s.repo.ListCommodities(ctx)
}

// GetPortfolioSummary возвращает сводку по портфелю пользователя.
func (s *Service) GetPortfolioSummary(ctx context.Context, userID int64) (*model.PortfolioSummary, error) {
	return s.repo.GetPortfolioSummary(ctx, userID)
}

// newReceiptNumber генерирует номер расписки: 11 случайных цифр и контрольная цифра Луна.
func newReceiptNumber() string {
	buf := make([]byte, 11)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand недоступен только в аварийных конфигурациях;
		// номер из нулей остаётся валидным по Луну.
		buf = make([]byte, 11)
	}

	digits := make([]byte, 11)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}

	return validation.AppendCheckDigit(string(digits))
}

// StartQualityUpdates запускает фоновый процесс обновления параметров качества мешков.
func (s *Service) StartQualityUpdates(ctx context.Context) {
	if s.qualityClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processQualityBatch(ctx)
			}
		}
	}()
}

func (s *Service) processQualityBatch(ctx context.Context) {
	codes, err := s.repo.ListStoredSackCodes(ctx, 100)
	if err != nil {
		return
	}

	for _, code := range codes {
		resp, statusCode, retryAfter, err := s.qualityClient.GetSackQuality(ctx, code)
		if err != nil {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if resp == nil || resp.Status != "ASSESSED" || len(resp.Parameters) == 0 {
			continue
		}

		_ = s.repo.UpdateSackQualityByCode(ctx, code, resp.Parameters)
	}
}
