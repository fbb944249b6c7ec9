package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
)

// CreateLoan сохраняет займ вместе с графиком погашения и в той же транзакции
// переводит залоговые расписки в статус collateralized. Каждая расписка проверяется
// под блокировкой строки: если хоть одна не активна, займ не создаётся.
func (r *PostgresRepository) CreateLoan(ctx context.Context, loan *model.Loan, schedule []model.ScheduleEntry) error {
	return r.withRetry(ctx, func() error {
		return r.createLoanTx(ctx, loan, schedule)
	})
}

func (r *PostgresRepository) createLoanTx(ctx context.Context, loan *model.Loan, schedule []model.ScheduleEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO loans (id, borrower_id, amount, annual_rate_pct, term_months, monthly_payment, outstanding_amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		loan.ID.String(), loan.BorrowerID, loan.Amount.String(), loan.AnnualRatePct.String(),
		loan.TermMonths, loan.MonthlyPayment.String(), loan.OutstandingAmount.String(),
		string(loan.Status),
	)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}

	for _, receiptID := range loan.CollateralReceiptIDs {
		var status string
		err = tx.QueryRow(ctx,
			`SELECT status FROM receipts WHERE id = $1 FOR UPDATE`,
			receiptID.String(),
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

		lien, err := json.Marshal(map[string]string{model.LienCollateralLoan: loan.ID.String()})
		if err != nil {
			return fmt.Errorf("marshal lien: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE receipts SET status = $2, liens = liens || $3 WHERE id = $1`,
			receiptID.String(), string(model.ReceiptStatusCollateralized), lien,
		)
		if err != nil {
			return fmt.Errorf("collateralize receipt: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO loan_collaterals (loan_id, receipt_id) VALUES ($1, $2)`,
			loan.ID.String(), receiptID.String(),
		)
		if err != nil {
			return fmt.Errorf("insert collateral: %w", err)
		}
	}

	for _, e := range schedule {
		_, err = tx.Exec(ctx,
			`INSERT INTO loan_schedule (loan_id, period, payment, principal, interest, balance)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			loan.ID.String(), e.Period, e.Payment.String(), e.Principal.String(),
			e.Interest.String(), e.Balance.String(),
		)
		if err != nil {
			return fmt.Errorf("insert schedule entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

const loanColumns = `id::text, borrower_id, amount::text, annual_rate_pct::text, term_months,
	monthly_payment::text, outstanding_amount::text, status, created_at`

// GetLoan возвращает займ вместе со списком залоговых расписок.
func (r *PostgresRepository) GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`,
		id.String(),
	)

	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT receipt_id::text FROM loan_collaterals WHERE loan_id = $1`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select collaterals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var receiptText string
		if err := rows.Scan(&receiptText); err != nil {
			return nil, fmt.Errorf("scan collateral: %w", err)
		}
		receiptID, err := uuid.Parse(receiptText)
		if err != nil {
			return nil, fmt.Errorf("parse receipt id: %w", err)
		}
		loan.CollateralReceiptIDs = append(loan.CollateralReceiptIDs, receiptID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return loan, nil
}

// GetLoansByBorrower возвращает займы пользователя.
func (r *PostgresRepository) GetLoansByBorrower(ctx context.Context, borrowerID int64) ([]model.Loan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE borrower_id = $1 ORDER BY created_at DESC`,
		borrowerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		res = append(res, *loan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanLoan(row pgx.Row) (*model.Loan, error) {
	var (
		loan        model.Loan
		idText      string
		amount      string
		rate        string
		payment     string
		outstanding string
		status      string
	)

	err := row.Scan(&idText, &loan.BorrowerID, &amount, &rate, &loan.TermMonths,
		&payment, &outstanding, &status, &loan.CreatedAt)
	if err != nil {
		return nil, err
	}

	if loan.ID, err = uuid.Parse(idText); err != nil {
		return nil, fmt.Errorf("parse loan id: %w", err)
	}
	if loan.Amount, err = scanDecimal(amount); err != nil {
		return nil, err
	}
	if loan.AnnualRatePct, err = scanDecimal(rate); err != nil {
		return nil, err
	}
	if loan.MonthlyPayment, err = scanDecimal(payment); err != nil {
		return nil, err
	}
	if loan.OutstandingAmount, err = scanDecimal(outstanding); err != nil {
		return nil, err
	}
	loan.Status = model.LoanStatus(status)

	return &loan, nil
}

// GetLoanSchedule возвращает график погашения займа.
func (r *PostgresRepository) GetLoanSchedule(ctx context.Context, loanID uuid.UUID) ([]model.ScheduleEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT period, payment::text, principal::text, interest::text, balance::text
		 FROM loan_schedule
		 WHERE loan_id = $1
		 ORDER BY period`,
		loanID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select schedule: %w", err)
	}
	defer rows.Close()

	var res []model.ScheduleEntry
	for rows.Next() {
		var (
			e         model.ScheduleEntry
			payment   string
			principal string
			interest  string
			balance   string
		)
		if err := rows.Scan(&e.Period, &payment, &principal, &interest, &balance); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		if e.Payment, err = scanDecimal(payment); err != nil {
			return nil, err
		}
		if e.Principal, err = scanDecimal(principal); err != nil {
			return nil, err
		}
		if e.Interest, err = scanDecimal(interest); err != nil {
			return nil, err
		}
		if e.Balance, err = scanDecimal(balance); err != nil {
			return nil, err
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreatePayment фиксирует платёж по займу под блокировкой строки займа: остаток долга
// уменьшается с нижней границей ноль, при полном погашении займ закрывается и залоговые
// расписки возвращаются в статус active.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) (*model.Loan, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		outstandingText string
		status          string
	)
	err = tx.QueryRow(ctx,
		`SELECT outstanding_amount::text, status FROM loans WHERE id = $1 FOR UPDATE`,
		p.LoanID.String(),
	).Scan(&outstandingText, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("lock loan: %w", err)
	}

	if model.LoanStatus(status) != model.LoanStatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrLoanNotActive, status)
	}

	outstanding, err := scanDecimal(outstandingText)
	if err != nil {
		return nil, err
	}

	outstanding = outstanding.Sub(p.Amount)
	newStatus := model.LoanStatusActive
	if outstanding.Sign() <= 0 {
		outstanding = decimal.Zero
		newStatus = model.LoanStatusRepaid
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payments (id, loan_id, amount) VALUES ($1, $2, $3)`,
		p.ID.String(), p.LoanID.String(), p.Amount.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE loans SET outstanding_amount = $2, status = $3 WHERE id = $1`,
		p.LoanID.String(), outstanding.String(), string(newStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}

	if newStatus == model.LoanStatusRepaid {
		_, err = tx.Exec(ctx,
			`UPDATE receipts SET status = $2, liens = liens - $3
			 WHERE id IN (SELECT receipt_id FROM loan_collaterals WHERE loan_id = $1)
			   AND status = $4`,
			p.LoanID.String(), string(model.ReceiptStatusActive),
			model.LienCollateralLoan, string(model.ReceiptStatusCollateralized),
		)
		if err != nil {
			return nil, fmt.Errorf("release collaterals: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return r.GetLoan(ctx, p.LoanID)
}

// GetPaymentsByLoan возвращает платежи по займу в хронологическом порядке.
func (r *PostgresRepository) GetPaymentsByLoan(ctx context.Context, loanID uuid.UUID) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, loan_id::text, amount::text, paid_at
		 FROM payments
		 WHERE loan_id = $1
		 ORDER BY paid_at`,
		loanID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var (
			p      model.Payment
			idText string
			loan   string
			amount string
		)
		if err := rows.Scan(&idText, &loan, &amount, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.ID, err = uuid.Parse(idText); err != nil {
			return nil, fmt.Errorf("parse payment id: %w", err)
		}
		if p.LoanID, err = uuid.Parse(loan); err != nil {
			return nil, fmt.Errorf("parse loan id: %w", err)
		}
		if p.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkLoanDefaulted переводит активный займ в статус defaulted.
func (r *PostgresRepository) MarkLoanDefaulted(ctx context.Context, loanID uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE loans SET status = $2 WHERE id = $1 AND status = $3`,
		loanID.String(), string(model.LoanStatusDefaulted), string(model.LoanStatusActive),
	)
	if err != nil {
		return fmt.Errorf("mark loan defaulted: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		var status string
		err := r.pool.QueryRow(ctx, `SELECT status FROM loans WHERE id = $1`, loanID.String()).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLoanNotFound
		}
		if err != nil {
			return fmt.Errorf("get loan status: %w", err)
		}
		return fmt.Errorf("%w: status %s", ErrLoanNotActive, status)
	}
	return nil
}
