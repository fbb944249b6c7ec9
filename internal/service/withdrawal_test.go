package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
	"github.com/avolkov/agrosklad-system/internal/repository"
)

func seedDeposit(t *testing.T, repo *stubRepo, svc *Service, ownerID int64, quantityKg int64) *model.WarehouseReceipt {
	t.Helper()

	warehouse := &model.Warehouse{ID: uuid.New(), Name: "main", Location: "Elevator 1", CapacityKg: decimal.NewFromInt(1_000_000)}
	commodity := &model.Commodity{ID: uuid.New(), Name: "wheat", Grade: "A", PricePerKg: decimal.NewFromInt(20)}
	repo.warehouses[warehouse.ID] = warehouse
	repo.commodities[commodity.ID] = commodity

	_, receipt, err := svc.InitiateDeposit(context.Background(), ownerID, warehouse.ID, commodity.ID, decimal.NewFromInt(quantityKg))
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	return receipt
}

func TestInitiateDeposit_RejectsNonMultipleQuantity(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	warehouse := &model.Warehouse{ID: uuid.New()}
	commodity := &model.Commodity{ID: uuid.New(), PricePerKg: decimal.NewFromInt(10)}
	repo.warehouses[warehouse.ID] = warehouse
	repo.commodities[commodity.ID] = commodity

	for _, qty := range []int64{-50, 0, 73, 120} {
		_, _, err := svc.InitiateDeposit(context.Background(), 1, warehouse.ID, commodity.ID, decimal.NewFromInt(qty))
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestInitiateDeposit_CreatesSacksAndCompletedProcess(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 7, 500)

	if receipt.Status != model.ReceiptStatusActive {
		t.Fatalf("expected active receipt, got %s", receipt.Status)
	}
	if !receipt.Valuation.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected valuation 10000, got %s", receipt.Valuation)
	}
	if len(repo.createdSacks) != 10 {
		t.Fatalf("expected 10 sacks for 500 kg, got %d", len(repo.createdSacks))
	}
	for _, sack := range repo.createdSacks {
		if sack.LedgerHash == "" {
			t.Fatalf("sack %s has no ledger hash", sack.SackCode)
		}
		if !sack.WeightKg.Equal(model.SackWeightKg) {
			t.Fatalf("sack %s weight %s, expected %s", sack.SackCode, sack.WeightKg, model.SackWeightKg)
		}
	}

	process, err := repo.GetProcess(context.Background(), findProcessID(t, repo))
	if err != nil {
		t.Fatalf("process not stored: %v", err)
	}
	if process.Status != model.ProcessStatusCompleted || process.CompletedAt == nil {
		t.Fatalf("deposit process must be created completed, got %s", process.Status)
	}
	if process.ProgressPct != 100 {
		t.Fatalf("expected 100%% progress, got %d", process.ProgressPct)
	}
}

func findProcessID(t *testing.T, repo *stubRepo) uuid.UUID {
	t.Helper()
	for id := range repo.processes {
		return id
	}
	t.Fatalf("no process stored")
	return uuid.UUID{}
}

func TestInitiateWithdrawal_RejectsForeignReceipt(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)

	_, _, _, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 2, nil)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestInitiateWithdrawal_RejectsInactiveReceipt(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)
	repo.receipts[receipt.ID].Status = model.ReceiptStatusWithdrawn

	_, _, _, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, nil)
	if !errors.Is(err, repository.ErrReceiptNotActive) {
		t.Fatalf("expected ErrReceiptNotActive, got %v", err)
	}
}

func TestInitiateWithdrawal_RejectsBadQuantity(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)

	for _, qty := range []int64{-10, 0, 150} {
		q := decimal.NewFromInt(qty)
		_, _, _, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, &q)
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestInitiateWithdrawal_FullMarksProcessing(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)

	process, updated, partial, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if partial {
		t.Fatalf("full withdrawal reported as partial")
	}
	if updated.Status != model.ReceiptStatusProcessing {
		t.Fatalf("expected processing status, got %s", updated.Status)
	}
	if updated.Liens[model.LienWithdrawalProcess] != process.ID.String() {
		t.Fatalf("process lien not stamped: %v", updated.Liens)
	}
	if process.CurrentStage != model.WithdrawalStages[0] {
		t.Fatalf("expected first stage %s, got %s", model.WithdrawalStages[0], process.CurrentStage)
	}
}

func TestUpdateWithdrawalStage_UnknownStage(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)
	process, _, _, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.UpdateWithdrawalStage(context.Background(), process.ID, "teleportation", model.StageStatusCompleted)
	if !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestUpdateWithdrawalStage_CompletesWhenAllStagesDone(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)
	process, _, _, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var last *model.Process
	for i, stage := range model.WithdrawalStages {
		last, err = svc.UpdateWithdrawalStage(context.Background(), process.ID, stage, model.StageStatusCompleted)
		if err != nil {
			t.Fatalf("stage %s: unexpected error: %v", stage, err)
		}

		if i < len(model.WithdrawalStages)-1 && last.Status == model.ProcessStatusCompleted {
			t.Fatalf("process completed too early at stage %s", stage)
		}
	}

	if last.Status != model.ProcessStatusCompleted || last.CompletedAt == nil {
		t.Fatalf("expected completed process after all stages, got %s", last.Status)
	}
	if repo.receipts[receipt.ID].Status != model.ReceiptStatusWithdrawn {
		t.Fatalf("expected withdrawn receipt, got %s", repo.receipts[receipt.ID].Status)
	}
	if repo.finishedRemainder != nil {
		t.Fatalf("full withdrawal must not create a remainder receipt")
	}
}

func TestCompleteWithdrawal_PartialQuantityConserved(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		repo := newStubRepo()
		svc := newTestService(repo)

		sackCount := rnd.Int63n(40) + 2
		receipt := seedDeposit(t, repo, svc, 1, sackCount*50)

		// Изъятие случайного дробного количества строго меньше расписки.
		qty := decimal.NewFromFloat(rnd.Float64() * float64(sackCount*50-1)).Round(3)
		if qty.Sign() <= 0 {
			qty = decimal.RequireFromString("0.001")
		}

		process, _, partial, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, &qty)
		if err != nil {
			t.Fatalf("initiate %s of %s: %v", qty, receipt.QuantityKg, err)
		}
		if !partial {
			t.Fatalf("withdrawal of %s from %s must be partial", qty, receipt.QuantityKg)
		}

		if _, err := svc.CompleteWithdrawal(context.Background(), process.ID); err != nil {
			t.Fatalf("complete %s of %s: %v", qty, receipt.QuantityKg, err)
		}

		remainder := repo.finishedRemainder
		if remainder == nil {
			t.Fatalf("no remainder for %s of %s", qty, receipt.QuantityKg)
		}
		if !remainder.QuantityKg.Add(qty).Equal(receipt.QuantityKg) {
			t.Fatalf("remaining %s + withdrawn %s != original %s", remainder.QuantityKg, qty, receipt.QuantityKg)
		}
	}
}

func TestCompleteWithdrawal_PartialCreatesRemainder(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 1000)

	qty := decimal.NewFromInt(400)
	process, _, partial, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, &qty)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial {
		t.Fatalf("400 of 1000 kg must be partial")
	}

	if _, err := svc.CompleteWithdrawal(context.Background(), process.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	remainder := repo.finishedRemainder
	if remainder == nil {
		t.Fatalf("partial withdrawal must create a remainder receipt")
	}
	if !remainder.QuantityKg.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected remainder 600 kg, got %s", remainder.QuantityKg)
	}

	// Оценка остатка масштабируется пропорционально: 20000 * 600/1000.
	if !remainder.Valuation.Equal(decimal.NewFromInt(12000)) {
		t.Fatalf("expected remainder valuation 12000, got %s", remainder.Valuation)
	}
	if remainder.Liens[model.LienParentReceipt] != receipt.ID.String() {
		t.Fatalf("remainder must reference parent receipt, got %v", remainder.Liens)
	}
	if repo.finishedRelease != 8 {
		t.Fatalf("expected 8 sacks released for 400 kg, got %d", repo.finishedRelease)
	}
	if repo.receipts[receipt.ID].Status != model.ReceiptStatusWithdrawn {
		t.Fatalf("original receipt must be withdrawn, got %s", repo.receipts[receipt.ID].Status)
	}
}

func TestCompleteWithdrawal_SecondCallConflicts(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)
	process, _, _, err := svc.InitiateWithdrawal(context.Background(), receipt.ID, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.CompleteWithdrawal(context.Background(), process.ID); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}

	_, err = svc.CompleteWithdrawal(context.Background(), process.ID)
	if !errors.Is(err, repository.ErrProcessAlreadyCompleted) {
		t.Fatalf("expected ErrProcessAlreadyCompleted, got %v", err)
	}
}

func TestTransferReceipt_ReplacesReceipt(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)
	repo.getUser = &model.User{ID: 2, Login: "buyer"}

	replacement, err := svc.TransferReceipt(context.Background(), receipt.ID, 1, "buyer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if replacement.OwnerID != 2 {
		t.Fatalf("expected new owner 2, got %d", replacement.OwnerID)
	}
	if replacement.ReceiptNumber == receipt.ReceiptNumber {
		t.Fatalf("replacement must have a fresh receipt number")
	}
	if !replacement.QuantityKg.Equal(receipt.QuantityKg) || !replacement.Valuation.Equal(receipt.Valuation) {
		t.Fatalf("replacement must carry quantity and valuation")
	}
	if repo.receipts[receipt.ID].Status != model.ReceiptStatusTransferred {
		t.Fatalf("original receipt must be transferred, got %s", repo.receipts[receipt.ID].Status)
	}
}

func TestTransferReceipt_RejectsSelfTransfer(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	receipt := seedDeposit(t, repo, svc, 1, 100)
	repo.getUser = &model.User{ID: 1, Login: "self"}

	if _, err := svc.TransferReceipt(context.Background(), receipt.ID, 1, "self"); err == nil {
		t.Fatalf("expected error for self transfer")
	}
}

func TestRecordSackMovement_ChecksOwnerAndLocation(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	warehouse := &model.Warehouse{ID: uuid.New(), Location: "Elevator 1"}
	repo.warehouses[warehouse.ID] = warehouse

	sack := &model.CommoditySack{
		ID:          uuid.New(),
		SackCode:    "SCK-000000000000-0001",
		WarehouseID: warehouse.ID,
		OwnerID:     1,
		Status:      model.SackStatusStored,
	}
	repo.sacks[sack.ID] = sack

	if _, err := svc.RecordSackMovement(context.Background(), sack.ID, 2, "Bay 3", "", ""); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := svc.RecordSackMovement(context.Background(), sack.ID, 1, "", "", ""); err == nil {
		t.Fatalf("expected error for empty destination")
	}

	m, err := svc.RecordSackMovement(context.Background(), sack.ID, 1, "Bay 3", "routine", model.SackStatusInTransit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.FromLocation != "Elevator 1" || m.ToLocation != "Bay 3" {
		t.Fatalf("unexpected movement route: %s -> %s", m.FromLocation, m.ToLocation)
	}
	if sack.Status != model.SackStatusInTransit {
		t.Fatalf("expected in_transit sack, got %s", sack.Status)
	}
	if time.Since(m.MovedAt) > time.Minute {
		t.Fatalf("movement timestamp not set")
	}
}
