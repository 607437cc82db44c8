package models

import (
	"errors"
	"fmt"
)

// ErrTrackingTaken возвращает репозиторий при попытке создать отправление
// с уже занятым трек-номером. Сервис по ней перегенерирует идентификатор.
var ErrTrackingTaken = errors.New("tracking identifier already in use")

// Ошибки домена. Все три вида восстановимые: вызов падает, прежнее
// состояние остаётся нетронутым. Транспорт матчит их через errors.As.

// ValidationError names the first missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation: field %q is missing or invalid", e.Field)
	}
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Reason)
}

// NotFoundError — неизвестный трек-номер.
type NotFoundError struct {
	Tracking string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("shipment %s not found", e.Tracking)
}

// InvalidTransitionError carries the attempted from -> to pair so the
// caller can explain why the action was refused.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
