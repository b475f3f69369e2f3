package repository

import (
	"fmt"

	"github.com/mmeshcher/fairmatch/internal/model"
)

// Ошибки хранилища. Каждая оборачивает вид ошибки из model, чтобы вызывающая сторона
// могла проверять как конкретную причину, так и её вид.
var (
	// ErrUserNotFound возвращается, если пользователя нет в проекции users.
	ErrUserNotFound = fmt.Errorf("user %w", model.ErrNotFound)
	// ErrJobNotFound возвращается, если заказ не найден.
	ErrJobNotFound = fmt.Errorf("job %w", model.ErrNotFound)
	// ErrBidNotFound возвращается, если предложение не найдено.
	ErrBidNotFound = fmt.Errorf("bid %w", model.ErrNotFound)
	// ErrJobNotOpen возвращается при ставке или принятии предложения по заказу не в статусе OPEN.
	ErrJobNotOpen = fmt.Errorf("job is not open: %w", model.ErrInvalidState)
	// ErrNotJobOwner возвращается, если принять предложение пытается не владелец заказа.
	ErrNotJobOwner = fmt.Errorf("not the job owner: %w", model.ErrForbidden)
)
