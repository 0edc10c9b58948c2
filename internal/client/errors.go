package client

import (
	"errors"
	"fmt"
)

// ErrUnauthorized бэкенд отклонил токен (401/403). Не поглощается как сетевая ошибка:
// загрузка прерывается, сессия помечается истекшей.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError неуспешный ответ бэкенда (кроме 401/403)
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned status %d", e.Endpoint, e.StatusCode)
}

// ShapeError тело ответа не соответствует ожидаемой форме
type ShapeError struct {
	Endpoint string
	Err      error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %v", e.Endpoint, e.Err)
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// IsUnauthorized сообщает, что ошибка означает отказ в авторизации
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Classify возвращает класс ошибки для логов и метрик
func Classify(err error) string {
	var statusErr *StatusError
	var shapeErr *ShapeError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &statusErr):
		return "status"
	case errors.As(err, &shapeErr):
		return "shape"
	default:
		return "network"
	}
}
