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

const sackColumns = `id::text, sack_code, commodity_id::text, warehouse_id::text, owner_id,
	receipt_id::text, weight_kg::text, status, quality_params, ledger_hash, created_at`

// GetSack возвращает мешок по идентификатору.
func (r *PostgresRepository) GetSack(ctx context.Context, id uuid.UUID) (*model.CommoditySack, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sackColumns+` FROM sacks WHERE id = $1`,
		id.String(),
	)

	s, err := scanSack(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSackNotFound
		}
		return nil, fmt.Errorf("get sack: %w", err)
	}
	return s, nil
}

// GetSacksByReceipt возвращает мешки, привязанные к расписке.
func (r *PostgresRepository) GetSacksByReceipt(ctx context.Context, receiptID uuid.UUID) ([]model.CommoditySack, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sackColumns+` FROM sacks WHERE receipt_id = $1 ORDER BY created_at`,
		receiptID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select sacks: %w", err)
	}
	defer rows.Close()

	var res []model.CommoditySack
	for rows.Next() {
		s, err := scanSack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sack: %w", err)
		}
		res = append(res, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanSack(row pgx.Row) (*model.CommoditySack, error) {
	var (
		s         model.CommoditySack
		idText    string
		commodity string
		warehouse string
		receipt   string
		weight    string
		status    string
		quality   []byte
	)

	err := row.Scan(&idText, &s.SackCode, &commodity, &warehouse, &s.OwnerID,
		&receipt, &weight, &status, &quality, &s.LedgerHash, &s.CreatedAt)
	if err != nil {
		return nil, err
	}

	if s.ID, err = uuid.Parse(idText); err != nil {
		return nil, fmt.Errorf("parse sack id: %w", err)
	}
	if s.CommodityID, err = uuid.Parse(commodity); err != nil {
		return nil, fmt.Errorf("parse commodity id: %w", err)
	}
	if s.WarehouseID, err = uuid.Parse(warehouse); err != nil {
		return nil, fmt.Errorf("parse warehouse id: %w", err)
	}
	if s.ReceiptID, err = uuid.Parse(receipt); err != nil {
		return nil, fmt.Errorf("parse receipt id: %w", err)
	}
	if s.WeightKg, err = scanDecimal(weight); err != nil {
		return nil, err
	}
	s.Status = model.SackStatus(status)

	if err := json.Unmarshal(quality, &s.QualityParams); err != nil {
		return nil, fmt.Errorf("unmarshal quality params: %w", err)
	}

	return &s, nil
}

// ListStoredSackCodes возвращает коды хранящихся мешков для опроса системы оценки качества.
func (r *PostgresRepository) ListStoredSackCodes(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sack_code FROM sacks WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(model.SackStatusStored), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select sack codes: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan sack code: %w", err)
		}
		res = append(res, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateSackQuality заменяет снимок параметров качества мешка.
func (r *PostgresRepository) UpdateSackQuality(ctx context.Context, sackID uuid.UUID, params map[string]string) error {
	quality, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal quality params: %w", err)
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE sacks SET quality_params = $2 WHERE id = $1`,
		sackID.String(), quality,
	)
	if err != nil {
		return fmt.Errorf("update sack quality: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrSackNotFound
	}

	return nil
}

// UpdateSackQualityByCode заменяет снимок параметров качества по коду мешка.
func (r *PostgresRepository) UpdateSackQualityByCode(ctx context.Context, sackCode string, params map[string]string) error {
	quality, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal quality params: %w", err)
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE sacks SET quality_params = $2 WHERE sack_code = $1`,
		sackCode, quality,
	)
	if err != nil {
		return fmt.Errorf("update sack quality: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrSackNotFound
	}

	return nil
}

// AddSackMovement добавляет запись в журнал перемещений и обновляет статус мешка
// в одной транзакции. Журнал append-only, записи никогда не изменяются.
func (r *PostgresRepository) AddSackMovement(ctx context.Context, m *model.SackMovement, newStatus model.SackStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE sacks SET status = $2 WHERE id = $1`,
		m.SackID.String(), string(newStatus),
	)
	if err != nil {
		return fmt.Errorf("update sack status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrSackNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sack_movements (id, sack_id, from_location, to_location, note)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID.String(), m.SackID.String(), m.FromLocation, m.ToLocation, m.Note,
	)
	if err != nil {
		return fmt.Errorf("insert sack movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetSackMovements возвращает журнал перемещений мешка в хронологическом порядке.
func (r *PostgresRepository) GetSackMovements(ctx context.Context, sackID uuid.UUID) ([]model.SackMovement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, sack_id::text, from_location, to_location, note, moved_at
		 FROM sack_movements
		 WHERE sack_id = $1
		 ORDER BY moved_at`,
		sackID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select sack movements: %w", err)
	}
	defer rows.Close()

	var res []model.SackMovement
	for rows.Next() {
		var (
			m      model.SackMovement
			idText string
			sack   string
		)
		if err := rows.Scan(&idText, &sack, &m.FromLocation, &m.ToLocation, &m.Note, &m.MovedAt); err != nil {
			return nil, fmt.Errorf("scan sack movement: %w", err)
		}
		if m.ID, err = uuid.Parse(idText); err != nil {
			return nil, fmt.Errorf("parse movement id: %w", err)
		}
		if m.SackID, err = uuid.Parse(sack); err != nil {
			return nil, fmt.Errorf("parse sack id: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
