package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
	"github.com/avolkov/agrosklad-system/internal/repository"
)

const receiptValidity = 365 * 24 * time.Hour

// InitiateDeposit принимает партию на склад: создаёт расписку, завершённый процесс
// приёмки и мешки по 50 кг, каждый с хешем внешнего реестра.
func (s *Service) InitiateDeposit(ctx context.Context, userID int64, warehouseID, commodityID uuid.UUID, quantityKg decimal.Decimal) (*model.Process, *model.WarehouseReceipt, error) {
	if quantityKg.Sign() <= 0 || !quantityKg.Mod(model.SackWeightKg).IsZero() {
		return nil, nil, fmt.Errorf("%w: quantity must be a positive multiple of %s kg", ErrInvalidQuantity, model.SackWeightKg)
	}

	warehouse, err := s.repo.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, nil, err
	}
	commodity, err := s.repo.GetCommodity(ctx, commodityID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()

	receipt := &model.WarehouseReceipt{
		ID:            uuid.New(),
		OwnerID:       userID,
		ReceiptNumber: newReceiptNumber(),
		CommodityID:   commodity.ID,
		WarehouseID:   warehouse.ID,
		QuantityKg:    quantityKg,
		Valuation:     quantityKg.Mul(commodity.PricePerKg).Round(2),
		Status:        model.ReceiptStatusActive,
		Liens:         map[string]string{},
		IssuedAt:      now,
		ExpiresAt:     now.Add(receiptValidity),
	}

	// Расписка выдаётся синхронно, поэтому процесс приёмки создаётся уже завершённым.
	process := newProcess(model.ProcessTypeDeposit, receipt.ID)
	for stage := range process.StageProgress {
		process.StageProgress[stage] = model.StageStatusCompleted
	}
	process.Status = model.ProcessStatusCompleted
	process.CurrentStage = model.DepositStages[len(model.DepositStages)-1]
	process.ProgressPct = 100
	process.CompletedAt = &now

	sackCount := int(quantityKg.Div(model.SackWeightKg).IntPart())
	sacks := make([]model.CommoditySack, 0, sackCount)
	for i := 0; i < sackCount; i++ {
		sackCode := fmt.Sprintf("SCK-%s-%04d", receipt.ReceiptNumber, i+1)

		hash, err := s.recorder.Record(ctx, "deposit sack "+sackCode)
		if err != nil {
			return nil, nil, fmt.Errorf("record sack in ledger: %w", err)
		}

		sacks = append(sacks, model.CommoditySack{
			ID:            uuid.New(),
			SackCode:      sackCode,
			CommodityID:   commodity.ID,
			WarehouseID:   warehouse.ID,
			OwnerID:       userID,
			ReceiptID:     receipt.ID,
			WeightKg:      model.SackWeightKg,
			Status:        model.SackStatusStored,
			QualityParams: map[string]string{},
			LedgerHash:    hash,
		})
	}

	if err := s.repo.CreateDeposit(ctx, receipt, process, sacks); err != nil {
		return nil, nil, err
	}

	return process, receipt, nil
}

func newProcess(t model.ProcessType, receiptID uuid.UUID) *model.Process {
	stages := model.StagesForType(t)

	progress := make(map[string]model.StageStatus, len(stages))
	for _, stage := range stages {
		progress[stage] = model.StageStatusPending
	}

	return &model.Process{
		ID:            uuid.New(),
		Type:          t,
		Status:        model.ProcessStatusPending,
		ReceiptID:     receiptID,
		CurrentStage:  stages[0],
		StageProgress: progress,
		ProgressPct:   0,
		CreatedAt:     time.Now(),
	}
}

// InitiateWithdrawal начинает полное или частичное изъятие по расписке.
// Расписка должна принадлежать пользователю и быть активной. Частичным изъятие
// считается, когда запрошенное количество меньше количества расписки.
func (s *Service) InitiateWithdrawal(ctx context.Context, receiptID uuid.UUID, userID int64, quantityKg *decimal.Decimal) (*model.Process, *model.WarehouseReceipt, bool, error) {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, nil, false, err
	}

	if receipt.OwnerID != userID {
		return nil, nil, false, ErrNotOwner
	}
	if receipt.Status != model.ReceiptStatusActive {
		return nil, nil, false, fmt.Errorf("%w: status %s", repository.ErrReceiptNotActive, receipt.Status)
	}

	withdrawQty := receipt.QuantityKg
	if quantityKg != nil {
		if quantityKg.Sign() <= 0 || quantityKg.GreaterThan(receipt.QuantityKg) {
			return nil, nil, false, ErrInvalidQuantity
		}
		withdrawQty = *quantityKg
	}
	partial := withdrawQty.LessThan(receipt.QuantityKg)

	process := newProcess(model.ProcessTypeWithdrawal, receipt.ID)

	liens := map[string]string{
		model.LienWithdrawalProcess:  process.ID.String(),
		model.LienWithdrawalQuantity: withdrawQty.String(),
		model.LienWithdrawalPartial:  fmt.Sprintf("%t", partial),
	}

	if err := s.repo.BeginWithdrawal(ctx, process, liens); err != nil {
		return nil, nil, false, err
	}

	receipt, err = s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, nil, false, err
	}

	return process, receipt, partial, nil
}

// UpdateWithdrawalStage обновляет статус одного этапа процесса изъятия и пересчитывает
// общий прогресс. Когда все этапы завершены, изъятие завершается автоматически.
func (s *Service) UpdateWithdrawalStage(ctx context.Context, processID uuid.UUID, stage string, status model.StageStatus) (*model.Process, error) {
	p, err := s.repo.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	if p.Type != model.ProcessTypeWithdrawal {
		return nil, repository.ErrProcessNotCompletable
	}
	if p.CompletedAt != nil {
		return nil, repository.ErrProcessAlreadyCompleted
	}
	if _, ok := p.StageProgress[stage]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStage, stage)
	}

	p.StageProgress[stage] = status
	p.CurrentStage = stage

	completed := 0
	for _, st := range p.StageProgress {
		if st == model.StageStatusCompleted {
			completed++
		}
	}
	p.ProgressPct = completed * 100 / len(p.StageProgress)

	if completed == len(p.StageProgress) {
		return s.CompleteWithdrawal(ctx, processID)
	}

	if p.Status == model.ProcessStatusPending {
		p.Status = model.ProcessStatusInProgress
	}

	if err := s.repo.UpdateProcessProgress(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// CompleteWithdrawal завершает процесс изъятия. При частичном изъятии исходная
// расписка помечается изъятой и создаётся остаточная расписка на разницу количества
// с пропорционально уменьшенной оценкой; обе записи выполняются в одной транзакции.
func (s *Service) CompleteWithdrawal(ctx context.Context, processID uuid.UUID) (*model.Process, error) {
	p, err := s.repo.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	if p.Type != model.ProcessTypeWithdrawal {
		return nil, repository.ErrProcessNotCompletable
	}
	if p.CompletedAt != nil {
		return nil, repository.ErrProcessAlreadyCompleted
	}

	receipt, err := s.repo.GetReceipt(ctx, p.ReceiptID)
	if err != nil {
		return nil, err
	}

	partial := receipt.Liens[model.LienWithdrawalPartial] == "true"

	var remainder *model.WarehouseReceipt
	releaseSacks := 0

	if partial {
		withdrawQty, err := decimal.NewFromString(receipt.Liens[model.LienWithdrawalQuantity])
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal quantity lien: %w", err)
		}

		remaining := receipt.QuantityKg.Sub(withdrawQty)
		if remaining.Sign() <= 0 {
			return nil, fmt.Errorf("%w: nothing remains after withdrawal", ErrInvalidQuantity)
		}

		// Оценка остатка масштабируется пропорционально количеству.
		valuation := receipt.Valuation.Mul(remaining).Div(receipt.QuantityKg).Round(2)

		remainder = &model.WarehouseReceipt{
			ID:            uuid.New(),
			OwnerID:       receipt.OwnerID,
			ReceiptNumber: newReceiptNumber(),
			CommodityID:   receipt.CommodityID,
			WarehouseID:   receipt.WarehouseID,
			QuantityKg:    remaining,
			Valuation:     valuation,
			Status:        model.ReceiptStatusActive,
			Liens:         map[string]string{model.LienParentReceipt: receipt.ID.String()},
			IssuedAt:      time.Now(),
			ExpiresAt:     receipt.ExpiresAt,
		}

		releaseSacks = int(withdrawQty.Div(model.SackWeightKg).Ceil().IntPart())
	}

	if err := s.repo.FinishWithdrawal(ctx, processID, remainder, releaseSacks); err != nil {
		return nil, err
	}

	return s.repo.GetProcess(ctx, processID)
}

// GetProcess возвращает процесс, если расписка процесса принадлежит пользователю.
func (s *Service) GetProcess(ctx context.Context, processID uuid.UUID, userID int64) (*model.Process, error) {
	p, err := s.repo.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	receipt, err := s.repo.GetReceipt(ctx, p.ReceiptID)
	if err != nil {
		return nil, err
	}
	if receipt.OwnerID != userID {
		return nil, ErrNotOwner
	}

	return p, nil
}

// GetReceipt возвращает расписку пользователя.
func (s *Service) GetReceipt(ctx context.Context, receiptID uuid.UUID, userID int64) (*model.WarehouseReceipt, error) {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.OwnerID != userID {
		return nil, ErrNotOwner
	}
	return receipt, nil
}

// GetReceiptsByUser возвращает расписки пользователя.
func (s *Service) GetReceiptsByUser(ctx context.Context, userID int64) ([]model.WarehouseReceipt, error) {
	return s.repo.GetReceiptsByOwner(ctx, userID)
}

// TransferReceipt переводит активную расписку пользователю с указанным логином.
func (s *Service) TransferReceipt(ctx context.Context, receiptID uuid.UUID, fromUserID int64, toLogin string) (*model.WarehouseReceipt, error) {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.OwnerID != fromUserID {
		return nil, ErrNotOwner
	}
	if receipt.Status != model.ReceiptStatusActive {
		return nil, fmt.Errorf("%w: status %s", repository.ErrReceiptNotActive, receipt.Status)
	}

	toUser, err := s.repo.GetUserByLogin(ctx, toLogin)
	if err != nil {
		return nil, err
	}
	if toUser.ID == fromUserID {
		return nil, errors.New("cannot transfer receipt to yourself")
	}

	replacement := &model.WarehouseReceipt{
		ID:            uuid.New(),
		OwnerID:       toUser.ID,
		ReceiptNumber: newReceiptNumber(),
		CommodityID:   receipt.CommodityID,
		WarehouseID:   receipt.WarehouseID,
		QuantityKg:    receipt.QuantityKg,
		Valuation:     receipt.Valuation,
		Status:        model.ReceiptStatusActive,
		Liens:         map[string]string{model.LienParentReceipt: receipt.ID.String()},
		IssuedAt:      time.Now(),
		ExpiresAt:     receipt.ExpiresAt,
	}

	if err := s.repo.TransferReceipt(ctx, receipt.ID, replacement); err != nil {
		return nil, err
	}

	return replacement, nil
}

// GetSacksByReceipt возвращает мешки расписки пользователя.
func (s *Service) GetSacksByReceipt(ctx context.Context, receiptID uuid.UUID, userID int64) ([]model.CommoditySack, error) {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.OwnerID != userID {
		return nil, ErrNotOwner
	}

	return s.repo.GetSacksByReceipt(ctx, receiptID)
}

// RecordSackMovement добавляет запись в журнал перемещений мешка и фиксирует её
// во внешнем реестре.
func (s *Service) RecordSackMovement(ctx context.Context, sackID uuid.UUID, userID int64, toLocation, note string, newStatus model.SackStatus) (*model.SackMovement, error) {
	sack, err := s.repo.GetSack(ctx, sackID)
	if err != nil {
		return nil, err
	}
	if sack.OwnerID != userID {
		return nil, ErrNotOwner
	}
	if toLocation == "" {
		return nil, errors.New("destination location is required")
	}

	if newStatus == "" {
		newStatus = sack.Status
	}

	warehouse, err := s.repo.GetWarehouse(ctx, sack.WarehouseID)
	if err != nil {
		return nil, err
	}

	m := &model.SackMovement{
		ID:           uuid.New(),
		SackID:       sack.ID,
		FromLocation: warehouse.Location,
		ToLocation:   toLocation,
		Note:         note,
		MovedAt:      time.Now(),
	}

	if err := s.repo.AddSackMovement(ctx, m, newStatus); err != nil {
		return nil, err
	}

	if _, err := s.recorder.Record(ctx, "move sack "+sack.SackCode+" to "+toLocation); err != nil {
		// Реестр демонстрационный: неудача фиксации не откатывает перемещение.
		return m, nil
	}

	return m, nil
}

// GetSackMovements возвращает журнал перемещений мешка пользователя.
func (s *Service) GetSackMovements(ctx context.Context, sackID uuid.UUID, userID int64) ([]model.SackMovement, error) {
	sack, err := s.repo.GetSack(ctx, sackID)
	if err != nil {
		return nil, err
	}
	if sack.OwnerID != userID {
		return nil, ErrNotOwner
	}

	return s.repo.GetSackMovements(ctx, sackID)
}

// UpdateSackQuality заменяет снимок параметров качества мешка пользователя.
func (s *Service) UpdateSackQuality(ctx context.Context, sackID uuid.UUID, userID int64, params map[string]string) error {
	sack, err := s.repo.GetSack(ctx, sackID)
	if err != nil {
		return err
	}
	if sack.OwnerID != userID {
		return ErrNotOwner
	}
	if len(params) == 0 {
		return errors.New("quality parameters are required")
	}

	return s.repo.UpdateSackQuality(ctx, sackID, params)
}
