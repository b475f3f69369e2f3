// Package validation содержит функции валидации входных данных.
package validation

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/mmeshcher/fairmatch/internal/model"
)

// Ограничения на текстовые поля заказа и предложения.
const (
	TitleMinLen       = 3
	TitleMaxLen       = 100
	DescriptionMaxLen = 2000
	CategoryMaxLen    = 50
	MessageMaxLen     = 500
)

// Coordinates проверяет широту и долготу в градусах WGS-84.
func Coordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return model.NewValidationError("latitude", "must be within [-90, 90], got %v", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return model.NewValidationError("longitude", "must be within [-180, 180], got %v", lon)
	}
	return nil
}

// Radius проверяет радиус поиска в метрах.
func Radius(meters float64) error {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		return model.NewValidationError("radius", "must be a positive number of meters")
	}
	return nil
}

// Amount проверяет, что сумма не меньше минимально допустимой.
func Amount(field string, m model.Money) error {
	if m < model.MinAmount {
		return model.NewValidationError(field, "must be at least %s", model.MinAmount)
	}
	return nil
}

// Text проверяет длину строки в символах. Пустое значение допустимо только при min == 0.
func Text(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if min > 0 && strings.TrimSpace(value) == "" {
		return model.NewValidationError(field, "is required")
	}
	if n < min || n > max {
		return model.NewValidationError(field, "length must be between %d and %d characters", min, max)
	}
	return nil
}
