package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/fairmatch/internal/model"
)

var defaultRetryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// withRetry выполняет fn и повторяет её с паузами из delays, пока retryable считает ошибку временной.
// Если попытки исчерпаны, ошибка оборачивается в model.ErrUnavailable.
func withRetry(ctx context.Context, delays []time.Duration, retryable func(error) bool, fn func() error) error {
	for i := 0; ; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		// Ошибки контекста не повторяем
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !retryable(err) {
			return err
		}

		if i >= len(delays) {
			return fmt.Errorf("%w: %w", model.ErrUnavailable, err)
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
