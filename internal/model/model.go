// Package model содержит доменные сущности сервиса агросклад.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Warehouse описывает склад, принимающий сельхозпродукцию на хранение.
type Warehouse struct {
	ID         uuid.UUID
	Name       string
	Location   string
	CapacityKg decimal.Decimal
	CreatedAt  time.Time
}

// Commodity описывает вид сельхозпродукции и её учётную цену.
type Commodity struct {
	ID         uuid.UUID
	Name       string
	Grade      string
	PricePerKg decimal.Decimal
	CreatedAt  time.Time
}

// ReceiptStatus описывает статус электронной складской расписки.
type ReceiptStatus string

const (
	ReceiptStatusActive         ReceiptStatus = "active"
	ReceiptStatusProcessing     ReceiptStatus = "processing"
	ReceiptStatusWithdrawn      ReceiptStatus = "withdrawn"
	ReceiptStatusTransferred    ReceiptStatus = "transferred"
	ReceiptStatusCollateralized ReceiptStatus = "collateralized"
)

// Ключи обременений в карте Liens расписки.
const (
	LienWithdrawalProcess  = "withdrawal_process_id"
	LienWithdrawalQuantity = "withdrawal_quantity_kg"
	LienWithdrawalPartial  = "withdrawal_partial"
	LienParentReceipt      = "parent_receipt_id"
	LienCollateralLoan     = "collateral_loan_id"
)

// WarehouseReceipt описывает электронную складскую расписку (eWR).
// Количество остаточной расписки плюс изъятое количество всегда равны
// количеству исходной расписки.
type WarehouseReceipt struct {
	ID            uuid.UUID
	OwnerID       int64
	ReceiptNumber string
	CommodityID   uuid.UUID
	WarehouseID   uuid.UUID
	QuantityKg    decimal.Decimal
	Valuation     decimal.Decimal
	Status        ReceiptStatus
	Liens         map[string]string
	// ActiveWithdrawalProcessID указывает на незавершённый процесс изъятия.
	// Явная колонка вместо поиска по карте обременений.
	ActiveWithdrawalProcessID *uuid.UUID
	IssuedAt                  time.Time
	ExpiresAt                 time.Time
}

// ProcessType описывает вид складского процесса.
type ProcessType string

const (
	ProcessTypeDeposit    ProcessType = "deposit"
	ProcessTypeWithdrawal ProcessType = "withdrawal"
)

// ProcessStatus описывает статус процесса в целом.
type ProcessStatus string

const (
	ProcessStatusPending    ProcessStatus = "pending"
	ProcessStatusInProgress ProcessStatus = "in_progress"
	ProcessStatusCompleted  ProcessStatus = "completed"
)

// StageStatus описывает статус отдельного этапа процесса.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
)

// WithdrawalStages задаёт фиксированный порядок этапов процесса изъятия.
var WithdrawalStages = []string{
	"verification",
	"preparation",
	"document_check",
	"physical_release",
	"quantity_confirmation",
	"receipt_update",
}

// DepositStages задаёт фиксированный порядок этапов процесса приёмки.
var DepositStages = []string{
	"intake",
	"weighing",
	"quality_check",
	"storage_allocation",
	"receipt_issue",
}

// StagesForType возвращает порядок этапов для указанного вида процесса.
func StagesForType(t ProcessType) []string {
	if t == ProcessTypeDeposit {
		return DepositStages
	}
	return WithdrawalStages
}

// Process описывает отслеживаемый складской процесс приёмки или изъятия.
type Process struct {
	ID            uuid.UUID
	Type          ProcessType
	Status        ProcessStatus
	ReceiptID     uuid.UUID
	CurrentStage  string
	StageProgress map[string]StageStatus
	ProgressPct   int
	CreatedAt     time.Time
	// CompletedAt устанавливается ровно один раз при завершении процесса.
	CompletedAt *time.Time
}

// SackStatus описывает статус отдельного мешка.
type SackStatus string

const (
	SackStatusStored    SackStatus = "stored"
	SackStatusInTransit SackStatus = "in_transit"
	SackStatusReleased  SackStatus = "released"
)

// SackWeightKg — стандартный вес одного мешка.
var SackWeightKg = decimal.NewFromInt(50)

// CommoditySack описывает мешок 50 кг — минимальную учётную единицу партии.
// Мешки создаются при приёмке и никогда не удаляются.
type CommoditySack struct {
	ID            uuid.UUID
	SackCode      string
	CommodityID   uuid.UUID
	WarehouseID   uuid.UUID
	OwnerID       int64
	ReceiptID     uuid.UUID
	WeightKg      decimal.Decimal
	Status        SackStatus
	QualityParams map[string]string
	LedgerHash    string
	CreatedAt     time.Time
}

// SackMovement описывает запись журнала перемещений мешка.
// Записи неизменяемы после создания.
type SackMovement struct {
	ID           uuid.UUID
	SackID       uuid.UUID
	FromLocation string
	ToLocation   string
	Note         string
	MovedAt      time.Time
}

// LoanStatus описывает статус займа.
type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusRepaid    LoanStatus = "repaid"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

// Loan описывает займ под залог складских расписок.
type Loan struct {
	ID                   uuid.UUID
	BorrowerID           int64
	Amount               decimal.Decimal
	AnnualRatePct        decimal.Decimal
	TermMonths           int
	CollateralReceiptIDs []uuid.UUID
	MonthlyPayment       decimal.Decimal
	OutstandingAmount    decimal.Decimal
	Status               LoanStatus
	CreatedAt            time.Time
}

// ScheduleEntry описывает одну строку графика погашения займа.
type ScheduleEntry struct {
	Period    int             `json:"period"`
	Payment   decimal.Decimal `json:"payment"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Balance   decimal.Decimal `json:"balance"`
}

// Payment описывает факт платежа по займу.
type Payment struct {
	ID     uuid.UUID
	LoanID uuid.UUID
	Amount decimal.Decimal
	PaidAt time.Time
}

// PortfolioSummary содержит сводку по портфелю пользователя.
type PortfolioSummary struct {
	ActiveReceipts int             `json:"active_receipts"`
	TotalValuation decimal.Decimal `json:"total_valuation"`
	TotalDebt      decimal.Decimal `json:"total_debt"`
}
