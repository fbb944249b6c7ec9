// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidReceiptNumber проверяет корректность номера складской расписки:
// только цифры, последняя — контрольная по алгоритму Луна.
func IsValidReceiptNumber(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// AppendCheckDigit дописывает к числовой части номера контрольную цифру Луна.
// Возвращает пустую строку, если вход содержит не только цифры.
func AppendCheckDigit(payload string) string {
	if payload == "" {
		return ""
	}

	sum := 0
	double := true

	for i := len(payload) - 1; i >= 0; i-- {
		ch := rune(payload[i])
		if !unicode.IsDigit(ch) {
			return ""
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	check := (10 - sum%10) % 10
	return payload + string(rune('0'+check))
}
