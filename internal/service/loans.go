package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/finance"
	"github.com/avolkov/agrosklad-system/internal/model"
)

// CreateLoan выдаёт займ под залог активных расписок пользователя.
// Суммарная оценка залога должна покрывать сумму займа. График погашения
// рассчитывается аннуитетно; остаток долга равен сумме всех платежей графика.
func (s *Service) CreateLoan(ctx context.Context, borrowerID int64, receiptIDs []uuid.UUID, amount, annualRatePct decimal.Decimal, termMonths int) (*model.Loan, []model.ScheduleEntry, error) {
	if amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if len(receiptIDs) == 0 {
		return nil, nil, ErrInsufficientCollateral
	}

	totalValuation := decimal.Zero
	for _, receiptID := range receiptIDs {
		receipt, err := s.repo.GetReceipt(ctx, receiptID)
		if err != nil {
			return nil, nil, err
		}
		if receipt.OwnerID != borrowerID {
			return nil, nil, ErrNotOwner
		}
		totalValuation = totalValuation.Add(receipt.Valuation)
	}

	if totalValuation.LessThan(amount) {
		return nil, nil, ErrInsufficientCollateral
	}

	schedule, err := finance.Schedule(amount, annualRatePct, termMonths)
	if err != nil {
		return nil, nil, err
	}

	totalPayable := decimal.Zero
	for _, e := range schedule {
		totalPayable = totalPayable.Add(e.Payment)
	}

	loan := &model.Loan{
		ID:                   uuid.New(),
		BorrowerID:           borrowerID,
		Amount:               amount,
		AnnualRatePct:        annualRatePct,
		TermMonths:           termMonths,
		CollateralReceiptIDs: receiptIDs,
		MonthlyPayment:       finance.MonthlyPayment(amount, annualRatePct, termMonths),
		OutstandingAmount:    totalPayable,
		Status:               model.LoanStatusActive,
		CreatedAt:            time.Now(),
	}

	if err := s.repo.CreateLoan(ctx, loan, schedule); err != nil {
		return nil, nil, err
	}

	return loan, schedule, nil
}

// GetLoan возвращает займ пользователя.
func (s *Service) GetLoan(ctx context.Context, loanID uuid.UUID, userID int64) (*model.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.BorrowerID != userID {
		return nil, ErrNotOwner
	}
	return loan, nil
}

// GetLoansByUser возвращает займы пользователя.
func (s *Service) GetLoansByUser(ctx context.Context, userID int64) ([]model.Loan, error) {
	return s.repo.GetLoansByBorrower(ctx, userID)
}

// GetLoanSchedule возвращает график погашения займа пользователя.
func (s *Service) GetLoanSchedule(ctx context.Context, loanID uuid.UUID, userID int64) ([]model.ScheduleEntry, error) {
	if _, err := s.GetLoan(ctx, loanID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetLoanSchedule(ctx, loanID)
}

// RecordPayment фиксирует платёж по займу пользователя и возвращает обновлённый займ.
func (s *Service) RecordPayment(ctx context.Context, loanID uuid.UUID, userID int64, amount decimal.Decimal) (*model.Loan, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := s.GetLoan(ctx, loanID, userID); err != nil {
		return nil, err
	}

	p := &model.Payment{
		ID:     uuid.New(),
		LoanID: loanID,
		Amount: amount,
		PaidAt: time.Now(),
	}

	return s.repo.CreatePayment(ctx, p)
}

// GetPaymentsByLoan возвращает платежи по займу пользователя.
func (s *Service) GetPaymentsByLoan(ctx context.Context, loanID uuid.UUID, userID int64) ([]model.Payment, error) {
	if _, err := s.GetLoan(ctx, loanID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetPaymentsByLoan(ctx, loanID)
}

// MarkLoanDefaulted переводит просроченный займ пользователя в статус defaulted.
func (s *Service) MarkLoanDefaulted(ctx context.Context, loanID uuid.UUID, userID int64) error {
	if _, err := s.GetLoan(ctx, loanID, userID); err != nil {
		return err
	}
	return s.repo.MarkLoanDefaulted(ctx, loanID)
}
