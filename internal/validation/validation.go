// Package validation содержит функции валидации входных данных.
package validation

import (
	"math"
	"unicode"

	"github.com/mmeshcher/virtual-bank/internal/model"
)

const maxLoginLen = 32

// ToCents переводит сумму в денежных единицах в копейки с округлением.
// Возвращает false для неположительных, бесконечных и NaN значений.
func ToCents(amount float64) (int64, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, false
	}
	cents := math.Round(amount * model.CentsPerUnit)
	if cents < 1 || cents > math.MaxInt64/2 {
		return 0, false
	}
	return int64(cents), true
}

// ToNonNegativeCents работает как ToCents, но допускает ноль.
func ToNonNegativeCents(amount float64) (int64, bool) {
	if amount == 0 {
		return 0, true
	}
	return ToCents(amount)
}

// FromCents переводит копейки в денежные единицы.
func FromCents(cents int64) float64 {
	return float64(cents) / model.CentsPerUnit
}

// IsValidLogin проверяет логин: от 1 до 32 символов, только буквы, цифры, '_', '-' и '.'.
func IsValidLogin(login string) bool {
	if login == "" || len(login) > maxLoginLen {
		return false
	}
	for _, ch := range login {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' && ch != '-' && ch != '.' {
			return false
		}
	}
	return true
}
