// Package apperr определяет виды ошибок бизнес-логики биллинга.
// Сервисы оборачивают их через fmt.Errorf("%s: %w", op, err),
// а HTTP-слой классифицирует через errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation некорректные входные данные (тариф, идентификаторы).
	ErrValidation = errors.New("validation error")
	// ErrConflict нарушение уникальности или состояния записи.
	ErrConflict = errors.New("conflict")
	// ErrActiveSubscription у работодателя уже есть активная подписка.
	ErrActiveSubscription = fmt.Errorf("%w: employer already has an active subscription", ErrConflict)
	// ErrNotFound работодатель или подписка не найдены.
	ErrNotFound = errors.New("not found")
	// ErrPolicy действие запрещено политикой подписки.
	ErrPolicy = errors.New("policy violation")
	// ErrUpstream ошибка или таймаут платёжного провайдера.
	ErrUpstream = errors.New("upstream error")
)

// Validation оборачивает сообщение в ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflict оборачивает сообщение в ErrConflict.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFound оборачивает сообщение в ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Policy оборачивает сообщение в ErrPolicy.
func Policy(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPolicy, fmt.Sprintf(format, args...))
}

// Upstream оборачивает ошибку провайдера в ErrUpstream, сохраняя исходную причину.
func Upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}

// HTTPStatus возвращает HTTP-статус и публичное сообщение для ошибки.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity, "validation error"
	case errors.Is(err, ErrActiveSubscription):
		return http.StatusConflict, "employer already has an active subscription"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ErrPolicy):
		return http.StatusUnprocessableEntity, "policy violation"
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway, "payment provider error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
