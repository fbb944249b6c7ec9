package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avolkov/agrosklad-system/internal/model"
)

// CreateDeposit сохраняет в одной транзакции расписку, процесс приёмки и мешки партии.
func (r *PostgresRepository) CreateDeposit(ctx context.Context, receipt *model.WarehouseReceipt, process *model.Process, sacks []model.CommoditySack) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertReceipt(ctx, tx, receipt); err != nil {
		return err
	}

	if err := insertProcess(ctx, tx, process); err != nil {
		return err
	}

	for i := range sacks {
		s := &sacks[i]
		quality, err := json.Marshal(s.QualityParams)
		if err != nil {
			return fmt.Errorf("marshal quality params: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO sacks (id, sack_code, commodity_id, warehouse_id, owner_id, receipt_id, weight_kg, status, quality_params, ledger_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.ID.String(), s.SackCode, s.CommodityID.String(), s.WarehouseID.String(),
			s.OwnerID, s.ReceiptID.String(), s.WeightKg.String(), string(s.Status),
			quality, s.LedgerHash,
		)
		if err != nil {
			return fmt.Errorf("insert sack: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func insertReceipt(ctx context.Context, tx pgx.Tx, rc *model.WarehouseReceipt) error {
	liens, err := json.Marshal(rc.Liens)
	if err != nil {
		return fmt.Errorf("marshal liens: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO receipts (id, owner_id, receipt_number, commodity_id, warehouse_id, quantity_kg, valuation, status, liens, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rc.ID.String(), rc.OwnerID, rc.ReceiptNumber, rc.CommodityID.String(),
		rc.WarehouseID.String(), rc.QuantityKg.String(), rc.Valuation.String(),
		string(rc.Status), liens, rc.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func insertProcess(ctx context.Context, tx pgx.Tx, p *model.Process) error {
	progress, err := json.Marshal(p.StageProgress)
	if err != nil {
		return fmt.Errorf("marshal stage progress: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO processes (id, process_type, status, receipt_id, current_stage, stage_progress, progress_pct, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID.String(), string(p.Type), string(p.Status), p.ReceiptID.String(),
		p.CurrentStage, progress, p.ProgressPct, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

const receiptColumns = `id::text, owner_id, receipt_number, commodity_id::text, warehouse_id::text,
	quantity_kg::text, valuation::text, status, liens, active_withdrawal_process_id::text,
	issued_at, expires_at`

// GetReceipt возвращает складскую расписку по идентификатору.
func (r *PostgresRepository) GetReceipt(ctx context.Context, id uuid.UUID) (*model.WarehouseReceipt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1`,
		id.String(),
	)

	rc, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return rc, nil
}

// GetReceiptsByOwner возвращает расписки пользователя.
func (r *PostgresRepository) GetReceiptsByOwner(ctx context.Context, ownerID int64) ([]model.WarehouseReceipt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE owner_id = $1 ORDER BY issued_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select receipts: %w", err)
	}
	defer rows.Close()

	var res []model.WarehouseReceipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		res = append(res, *rc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanReceipt(row pgx.Row) (*model.WarehouseReceipt, error) {
	var (
		rc          model.WarehouseReceipt
		idText      string
		commodity   string
		warehouse   string
		quantity    string
		valuation   string
		status      string
		liens       []byte
		processText *string
	)

	err := row.Scan(&idText, &rc.OwnerID, &rc.ReceiptNumber, &commodity, &warehouse,
		&quantity, &valuation, &status, &liens, &processText, &rc.IssuedAt, &rc.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if rc.ID, err = uuid.Parse(idText); err != nil {
		return nil, fmt.Errorf("parse receipt id: %w", err)
	}
	if rc.CommodityID, err = uuid.Parse(commodity); err != nil {
		return nil, fmt.Errorf("parse commodity id: %w", err)
	}
	if rc.WarehouseID, err = uuid.Parse(warehouse); err != nil {
		return nil, fmt.Errorf("parse warehouse id: %w", err)
	}
	if rc.QuantityKg, err = scanDecimal(quantity); err != nil {
		return nil, err
	}
	if rc.Valuation, err = scanDecimal(valuation); err != nil {
		return nil, err
	}
	rc.Status = model.ReceiptStatus(status)

	if err := json.Unmarshal(liens, &rc.Liens); err != nil {
		return nil, fmt.Errorf("unmarshal liens: %w", err)
	}

	if processText != nil {
		pid, err := uuid.Parse(*processText)
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal process id: %w", err)
		}
		rc.ActiveWithdrawalProcessID = &pid
	}

	return &rc, nil
}

// BeginWithdrawal атомарно переводит расписку в статус processing и создаёт процесс изъятия.
// Статус проверяется под блокировкой строки, поэтому из двух конкурентных запросов
// побеждает ровно один, второй получает ErrReceiptNotActive.
func (r *PostgresRepository) BeginWithdrawal(ctx context.Context, process *model.Process, liens map[string]string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM receipts WHERE id = $1 FOR UPDATE`,
		process.ReceiptID.String(),
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReceiptNotFound
		}
		return fmt.Errorf("lock receipt: %w", err)
	}

	if model.ReceiptStatus(status) != model.ReceiptStatusActive {
		return fmt.Errorf("%w: status %s", ErrReceiptNotActive, status)
	}

	liensJSON, err := json.Marshal(liens)
	if err != nil {
		return fmt.Errorf("marshal liens: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE receipts
		 SET status = $2, liens = liens || $3, active_withdrawal_process_id = $4
		 WHERE id = $1`,
		process.ReceiptID.String(), string(model.ReceiptStatusProcessing),
		liensJSON, process.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("mark receipt processing: %w", err)
	}

	if err := insertProcess(ctx, tx, process); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetProcess возвращает процесс по идентификатору.
func (r *PostgresRepository) GetProcess(ctx context.Context, id uuid.UUID) (*model.Process, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id::text, process_type, status, receipt_id::text, current_stage,
		        stage_progress, progress_pct, created_at, completed_at
		 FROM processes WHERE id = $1`,
		id.String(),
	)

	p, err := scanProcess(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProcessNotFound
		}
		return nil, fmt.Errorf("get process: %w", err)
	}
	return p, nil
}

func scanProcess(row pgx.Row) (*model.Process, error) {
	var (
		p        model.Process
		idText   string
		pType    string
		status   string
		receipt  string
		progress []byte
	)

	err := row.Scan(&idText, &pType, &status, &receipt, &p.CurrentStage,
		&progress, &p.ProgressPct, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}

	if p.ID, err = uuid.Parse(idText); err != nil {
		return nil, fmt.Errorf("parse process id: %w", err)
	}
	if p.ReceiptID, err = uuid.Parse(receipt); err != nil {
		return nil, fmt.Errorf("parse receipt id: %w", err)
	}
	p.Type = model.ProcessType(pType)
	p.Status = model.ProcessStatus(status)

	if err := json.Unmarshal(progress, &p.StageProgress); err != nil {
		return nil, fmt.Errorf("unmarshal stage progress: %w", err)
	}

	return &p, nil
}

// UpdateProcessProgress сохраняет статус этапов незавершённого процесса.
func (r *PostgresRepository) UpdateProcessProgress(ctx context.Context, p *model.Process) error {
	progress, err := json.Marshal(p.StageProgress)
	if err != nil {
		return fmt.Errorf("marshal stage progress: %w", err)
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE processes
		 SET status = $2, current_stage = $3, stage_progress = $4, progress_pct = $5
		 WHERE id = $1 AND completed_at IS NULL`,
		p.ID.String(), string(p.Status), p.CurrentStage, progress, p.ProgressPct,
	)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProcessAlreadyCompleted
	}

	return nil
}

// FinishWithdrawal завершает процесс изъятия в одной транзакции: помечает исходную
// расписку изъятой, создаёт остаточную расписку при частичном изъятии, высвобождает
// мешки и фиксирует завершение процесса. Повторное завершение того же процесса
// возвращает ErrProcessAlreadyCompleted — отметка о завершении ставится ровно один раз.
func (r *PostgresRepository) FinishWithdrawal(ctx context.Context, processID uuid.UUID, remainder *model.WarehouseReceipt, releaseSacks int) error {
	return r.withRetry(ctx, func() error {
		return r.finishWithdrawalTx(ctx, processID, remainder, releaseSacks)
	})
}

func (r *PostgresRepository) finishWithdrawalTx(ctx context.Context, processID uuid.UUID, remainder *model.WarehouseReceipt, releaseSacks int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		pType       string
		receiptText string
		completedAt *string
		progress    []byte
	)
	err = tx.QueryRow(ctx,
		`SELECT process_type, receipt_id::text, completed_at::text, stage_progress
		 FROM processes WHERE id = $1 FOR UPDATE`,
		processID.String(),
	).Scan(&pType, &receiptText, &completedAt, &progress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProcessNotFound
		}
		return fmt.Errorf("lock process: %w", err)
	}

	if model.ProcessType(pType) != model.ProcessTypeWithdrawal {
		return ErrProcessNotCompletable
	}
	if completedAt != nil {
		return ErrProcessAlreadyCompleted
	}

	var stages map[string]model.StageStatus
	if err := json.Unmarshal(progress, &stages); err != nil {
		return fmt.Errorf("unmarshal stage progress: %w", err)
	}
	for stage := range stages {
		stages[stage] = model.StageStatusCompleted
	}
	finalProgress, err := json.Marshal(stages)
	if err != nil {
		return fmt.Errorf("marshal stage progress: %w", err)
	}

	lastStage := ""
	if ordered := model.WithdrawalStages; len(ordered) > 0 {
		lastStage = ordered[len(ordered)-1]
	}

	_, err = tx.Exec(ctx,
		`UPDATE processes
		 SET status = $2, current_stage = $3, stage_progress = $4, progress_pct = 100, completed_at = now()
		 WHERE id = $1 AND completed_at IS NULL`,
		processID.String(), string(model.ProcessStatusCompleted), lastStage, finalProgress,
	)
	if err != nil {
		return fmt.Errorf("complete process: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE receipts
		 SET status = $2, active_withdrawal_process_id = NULL
		 WHERE id = $1`,
		receiptText, string(model.ReceiptStatusWithdrawn),
	)
	if err != nil {
		return fmt.Errorf("mark receipt withdrawn: %w", err)
	}

	if remainder == nil {
		// Полное изъятие: все мешки расписки покидают склад.
		_, err = tx.Exec(ctx,
			`UPDATE sacks SET status = $2 WHERE receipt_id = $1 AND status <> $2`,
			receiptText, string(model.SackStatusReleased),
		)
		if err != nil {
			return fmt.Errorf("release sacks: %w", err)
		}
	} else {
		if err := insertReceipt(ctx, tx, remainder); err != nil {
			return err
		}

		if releaseSacks > 0 {
			_, err = tx.Exec(ctx,
				`UPDATE sacks SET status = $3
				 WHERE id IN (
				     SELECT id FROM sacks
				     WHERE receipt_id = $1 AND status = $2
				     ORDER BY created_at
				     LIMIT $4
				 )`,
				receiptText, string(model.SackStatusStored),
				string(model.SackStatusReleased), releaseSacks,
			)
			if err != nil {
				return fmt.Errorf("release sacks: %w", err)
			}
		}

		// Оставшиеся мешки переходят к остаточной расписке.
		_, err = tx.Exec(ctx,
			`UPDATE sacks SET receipt_id = $2 WHERE receipt_id = $1 AND status <> $3`,
			receiptText, remainder.ID.String(), string(model.SackStatusReleased),
		)
		if err != nil {
			return fmt.Errorf("reassign sacks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// TransferReceipt переводит активную расписку новому владельцу: исходная получает
// статус transferred, для получателя создаётся новая расписка на то же количество.
func (r *PostgresRepository) TransferReceipt(ctx context.Context, originalID uuid.UUID, replacement *model.WarehouseReceipt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM receipts WHERE id = $1 FOR UPDATE`,
		originalID.String(),
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReceiptNotFound
		}
		return fmt.Errorf("lock receipt: %w", err)
	}

	if model.ReceiptStatus(status) != model.ReceiptStatusActive {
		return fmt.Errorf("%w: status %s", ErrReceiptNotActive, status)
	}

	_, err = tx.Exec(ctx,
		`UPDATE receipts SET status = $2 WHERE id = $1`,
		originalID.String(), string(model.ReceiptStatusTransferred),
	)
	if err != nil {
		return fmt.Errorf("mark receipt transferred: %w", err)
	}

	if err := insertReceipt(ctx, tx, replacement); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE sacks SET owner_id = $2, receipt_id = $3 WHERE receipt_id = $1 AND status <> $4`,
		originalID.String(), replacement.OwnerID, replacement.ID.String(),
		string(model.SackStatusReleased),
	)
	if err != nil {
		return fmt.Errorf("reassign sacks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
