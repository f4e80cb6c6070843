// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден (или принадлежит другому владельцу).
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — ресурс изменён параллельно, повторите запрос.
	ErrConflict = errors.New("конфликт — ресурс изменён параллельно")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrDispatch — сервис извлечения не принял задание.
	ErrDispatch = errors.New("ошибка постановки задания в сервис извлечения")
	// ErrAlreadyDispatched — задание по Meeting уже отправлено.
	ErrAlreadyDispatched = errors.New("задание уже отправлено")
	// ErrAlreadyTerminal — Meeting уже в терминальном статусе.
	ErrAlreadyTerminal = errors.New("Meeting уже в терминальном статусе")
	// ErrInvalidTransition — недопустимый переход статуса действия.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrReviewPending — действие ещё ожидает проверки.
	ErrReviewPending = errors.New("действие ожидает проверки")
)
