// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrWarehouseNotFound возвращается, если склад не найден.
	ErrWarehouseNotFound = errors.New("warehouse not found")
	// ErrCommodityNotFound возвращается, если вид продукции не найден.
	ErrCommodityNotFound = errors.New("commodity not found")
	// ErrReceiptNotFound возвращается, если складская расписка не найдена.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrReceiptNotActive возвращается при попытке операции над распиской не в статусе active.
	ErrReceiptNotActive = errors.New("receipt is not active")
	// ErrProcessNotFound возвращается, если процесс не найден.
	ErrProcessNotFound = errors.New("process not found")
	// ErrProcessNotCompletable возвращается, если процесс не подходит для завершения изъятия.
	ErrProcessNotCompletable = errors.New("invalid process for withdrawal completion")
	// ErrProcessAlreadyCompleted возвращается при повторной попытке завершить процесс.
	ErrProcessAlreadyCompleted = errors.New("process already completed")
	// ErrSackNotFound возвращается, если мешок не найден.
	ErrSackNotFound = errors.New("sack not found")
	// ErrLoanNotFound возвращается, если займ не найден.
	ErrLoanNotFound = errors.New("loan not found")
	// ErrLoanNotActive возвращается при попытке платежа по неактивному займу.
	ErrLoanNotActive = errors.New("loan is not active")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// scanDecimal переводит текстовое значение NUMERIC в decimal.Decimal.
func scanDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetPortfolioSummary возвращает сводку по активным распискам и долгу пользователя.
func (r *PostgresRepository) GetPortfolioSummary(ctx context.Context, userID int64) (*model.PortfolioSummary, error) {
	var (
		activeCount    int
		valuationText  string
		outstandingTxt string
	)

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(valuation), 0)::text
		 FROM receipts
		 WHERE owner_id = $1 AND status IN ($2, $3)`,
		userID, string(model.ReceiptStatusActive), string(model.ReceiptStatusCollateralized),
	).Scan(&activeCount, &valuationText)
	if err != nil {
		return nil, fmt.Errorf("sum valuations: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(outstanding_amount), 0)::text
		 FROM loans
		 WHERE borrower_id = $1 AND status = $2`,
		userID, string(model.LoanStatusActive),
	).Scan(&outstandingTxt)
	if err != nil {
		return nil, fmt.Errorf("sum outstanding: %w", err)
	}

	valuation, err := scanDecimal(valuationText)
	if err != nil {
		return nil, err
	}
	debt, err := scanDecimal(outstandingTxt)
	if err != nil {
		return nil, err
	}

	return &model.PortfolioSummary{
		ActiveReceipts: activeCount,
		TotalValuation: valuation,
		TotalDebt:      debt,
	}, nil
}
