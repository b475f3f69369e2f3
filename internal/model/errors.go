package model

import (
	"errors"
	"fmt"
)

// Виды бизнес-ошибок. Слои ниже оборачивают их, а вызывающая сторона проверяет через errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	// ErrUnavailable возвращается, когда хранилище не ответило после всех повторов.
	ErrUnavailable = errors.New("storage unavailable")
)

// ValidationError описывает некорректное значение конкретного поля.
type ValidationError struct {
	Field string
	Msg   string
}

// NewValidationError создаёт ошибку валидации поля.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// Unwrap позволяет сравнивать ошибку с ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }
