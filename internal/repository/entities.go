package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avolkov/agrosklad-system/internal/model"
)

// CreateWarehouse сохраняет новый склад.
func (r *PostgresRepository) CreateWarehouse(ctx context.Context, w *model.Warehouse) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO warehouses (id, name, location, capacity_kg) VALUES ($1, $2, $3, $4)`,
		w.ID.String(), w.Name, w.Location, w.CapacityKg.String(),
	)
	if err != nil {
		return fmt.Errorf("create warehouse: %w", err)
	}
	return nil
}

// GetWarehouse возвращает склад по идентификатору.
func (r *PostgresRepository) GetWarehouse(ctx context.Context, id uuid.UUID) (*model.Warehouse, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id::text, name, location, capacity_kg::text, created_at
		 FROM warehouses WHERE id = $1`,
		id.String(),
	)

	w, err := scanWarehouse(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWarehouseNotFound
		}
		return nil, fmt.Errorf("get warehouse: %w", err)
	}
	return w, nil
}

// ListWarehouses возвращает все склады.
func (r *PostgresRepository) ListWarehouses(ctx context.Context) ([]model.Warehouse, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, name, location, capacity_kg::text, created_at
		 FROM warehouses ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select warehouses: %w", err)
	}
	defer rows.Close()

	var res []model.Warehouse
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warehouse: %w", err)
		}
		res = append(res, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanWarehouse(row pgx.Row) (*model.Warehouse, error) {
	var (
		w        model.Warehouse
		idText   string
		capacity string
	)
	if err := row.Scan(&idText, &w.Name, &w.Location, &capacity, &w.CreatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idText)
	if err != nil {
		return nil, fmt.Errorf("parse warehouse id: %w", err)
	}
	w.ID = id

	w.CapacityKg, err = scanDecimal(capacity)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateCommodity сохраняет новый вид продукции.
func (r *PostgresRepository) CreateCommodity(ctx context.Context, c *model.Commodity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO commodities (id, name, grade, price_per_kg) VALUES ($1, $2, $3, $4)`,
		c.ID.String(), c.Name, c.Grade, c.PricePerKg.String(),
	)
	if err != nil {
		return fmt.Errorf("create commodity: %w", err)
	}
	return nil
}

// GetCommodity возвращает вид продукции по идентификатору.
func (r *PostgresRepository) GetCommodity(ctx context.Context, id uuid.UUID) (*model.Commodity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id::text, name, grade, price_per_kg::text, created_at
		 FROM commodities WHERE id = $1`,
		id.String(),
	)

	c, err := scanCommodity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommodityNotFound
		}
		return nil, fmt.Errorf("get commodity: %w", err)
	}
	return c, nil
}

// ListCommodities возвращает все виды продукции.
func (r *PostgresRepository) ListCommodities(ctx context.Context) ([]model.Commodity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, name, grade, price_per_kg::text, created_at
		 FROM commodities ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select commodities: %w", err)
	}
	defer rows.Close()

	var res []model.Commodity
	for rows.Next() {
		c, err := scanCommodity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commodity: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanCommodity(row pgx.Row) (*model.Commodity, error) {
	var (
		c      model.Commodity
		idText string
		price  string
	)
	if err := row.Scan(&idText, &c.Name, &c.Grade, &price, &c.CreatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idText)
	if err != nil {
		return nil, fmt.Errorf("parse commodity id: %w", err)
	}
	c.ID = id

	c.PricePerKg, err = scanDecimal(price)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
