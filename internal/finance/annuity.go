// Package finance содержит расчёт аннуитетных платежей по займам.
package finance

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
	one     = decimal.NewFromInt(1)
)

// ErrInvalidTerms возвращается для некорректных параметров займа.
var ErrInvalidTerms = errors.New("invalid loan terms")

// MonthlyRate возвращает месячную ставку для годовой ставки в процентах.
func MonthlyRate(annualRatePct decimal.Decimal) decimal.Decimal {
	return annualRatePct.Div(hundred).Div(twelve)
}

// MonthlyPayment возвращает аннуитетный платёж, округлённый до копеек:
// EMI = P * r * (1+r)^n / ((1+r)^n - 1).
func MonthlyPayment(principal, annualRatePct decimal.Decimal, months int) decimal.Decimal {
	n := decimal.NewFromInt(int64(months))

	r := MonthlyRate(annualRatePct)
	if r.IsZero() {
		return principal.Div(n).Round(2)
	}

	pow := one.Add(r).Pow(n)
	return principal.Mul(r).Mul(pow).Div(pow.Sub(one)).Round(2)
}

// Schedule строит помесячный график погашения. Интерес каждого периода
// считается от остатка долга; последний период поглощает накопленную
// погрешность округления, чтобы остаток закрылся ровно в ноль.
func Schedule(principal, annualRatePct decimal.Decimal, months int) ([]model.ScheduleEntry, error) {
	if months <= 0 || principal.Sign() <= 0 || annualRatePct.Sign() < 0 {
		return nil, ErrInvalidTerms
	}

	emi := MonthlyPayment(principal, annualRatePct, months)
	r := MonthlyRate(annualRatePct)

	entries := make([]model.ScheduleEntry, 0, months)
	balance := principal

	for period := 1; period <= months; period++ {
		interest := balance.Mul(r).Round(2)

		var payment, principalPart decimal.Decimal
		if period == months {
			principalPart = balance
			payment = balance.Add(interest)
		} else {
			principalPart = emi.Sub(interest)
			if principalPart.GreaterThan(balance) {
				principalPart = balance
			}
			payment = emi
		}

		balance = balance.Sub(principalPart)
		if balance.Sign() < 0 {
			balance = decimal.Zero
		}

		entries = append(entries, model.ScheduleEntry{
			Period:    period,
			Payment:   payment,
			Principal: principalPart,
			Interest:  interest,
			Balance:   balance,
		})
	}

	return entries, nil
}
