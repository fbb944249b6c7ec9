package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
)

func TestCreateLoan_RejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newStubRepo())

	_, _, err := svc.CreateLoan(context.Background(), 1, []uuid.UUID{uuid.New()}, decimal.Zero, decimal.NewFromInt(12), 12)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateLoan_RejectsForeignCollateral(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 1000)

	_, _, err := svc.CreateLoan(context.Background(), 2, []uuid.UUID{receipt.ID}, decimal.NewFromInt(100), decimal.NewFromInt(12), 12)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestCreateLoan_RejectsInsufficientCollateral(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	// 1000 кг по 20 за кг: оценка 20000.
	receipt := seedDeposit(t, repo, svc, 1, 1000)

	_, _, err := svc.CreateLoan(context.Background(), 1, []uuid.UUID{receipt.ID}, decimal.NewFromInt(20001), decimal.NewFromInt(12), 12)
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestCreateLoan_BuildsAnnuitySchedule(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 1000)

	amount := decimal.NewFromInt(10000)
	loan, schedule, err := svc.CreateLoan(context.Background(), 1, []uuid.UUID{receipt.ID}, amount, decimal.NewFromInt(12), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if loan.Status != model.LoanStatusActive {
		t.Fatalf("expected active loan, got %s", loan.Status)
	}
	if len(schedule) != 12 {
		t.Fatalf("expected 12 schedule entries, got %d", len(schedule))
	}

	totalPayable := decimal.Zero
	totalPrincipal := decimal.Zero
	for _, e := range schedule {
		totalPayable = totalPayable.Add(e.Payment)
		totalPrincipal = totalPrincipal.Add(e.Principal)
	}

	if !totalPrincipal.Equal(amount) {
		t.Fatalf("schedule principal %s must equal loan amount %s", totalPrincipal, amount)
	}
	if !loan.OutstandingAmount.Equal(totalPayable) {
		t.Fatalf("outstanding %s must equal total payable %s", loan.OutstandingAmount, totalPayable)
	}
	if totalPayable.LessThanOrEqual(amount) {
		t.Fatalf("total payable %s must exceed principal at positive rate", totalPayable)
	}
}

func TestRecordPayment_RejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newStubRepo())

	_, err := svc.RecordPayment(context.Background(), uuid.New(), 1, decimal.Zero)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRecordPayment_RepaysLoan(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 1000)

	loan, _, err := svc.CreateLoan(context.Background(), 1, []uuid.UUID{receipt.ID}, decimal.NewFromInt(10000), decimal.NewFromInt(12), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.RecordPayment(context.Background(), loan.ID, 1, loan.OutstandingAmount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.Status != model.LoanStatusRepaid {
		t.Fatalf("expected repaid loan, got %s", updated.Status)
	}
	if !updated.OutstandingAmount.IsZero() {
		t.Fatalf("expected zero outstanding, got %s", updated.OutstandingAmount)
	}
}

func TestMarkLoanDefaulted_ChecksOwner(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 1000)

	loan, _, err := svc.CreateLoan(context.Background(), 1, []uuid.UUID{receipt.ID}, decimal.NewFromInt(10000), decimal.NewFromInt(12), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.MarkLoanDefaulted(context.Background(), loan.ID, 2); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if err := svc.MarkLoanDefaulted(context.Background(), loan.ID, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loan.Status != model.LoanStatusDefaulted {
		t.Fatalf("expected defaulted loan, got %s", loan.Status)
	}
}
