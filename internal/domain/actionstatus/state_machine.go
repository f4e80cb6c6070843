// Пакет actionstatus — конечный автомат операционного статуса ExtractedAction.
//
// Основной путь: not_started → in_progress → completed.
// Боковые ветки on_hold и cancelled достижимы из любого нетерминального статуса,
// из on_hold можно вернуться в in_progress.
// Терминальные статусы: completed, cancelled.
//
// Автомат не хранит состояние: текущий статус живёт в БД,
// пакет только проверяет допустимость перехода.
package actionstatus

import (
	"fmt"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidStatus     = "INVALID_STATUS"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[model.ActionStatus]map[model.ActionStatus]bool{
	model.ActionNotStarted: {
		model.ActionInProgress: true,
		model.ActionOnHold:     true,
		model.ActionCancelled:  true,
	},
	model.ActionInProgress: {
		model.ActionCompleted: true,
		model.ActionOnHold:    true,
		model.ActionCancelled: true,
	},
	model.ActionOnHold: {
		model.ActionInProgress: true,
		model.ActionCancelled:  true,
	},
	model.ActionCompleted: {}, // Конечный статус
	model.ActionCancelled: {}, // Конечный статус
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, INVALID_STATUS)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValid проверяет, является ли строка допустимым статусом.
func IsValid(s model.ActionStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal возвращает true для completed и cancelled.
func IsTerminal(s model.ActionStatus) bool {
	targets, ok := validTransitions[s]
	return ok && len(targets) == 0
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to model.ActionStatus) bool {
	return validTransitions[from][to]
}

// Validate возвращает *TransitionError, если переход from → to недопустим.
func Validate(from, to model.ActionStatus) error {
	if !IsValid(to) {
		return &TransitionError{
			Code:    CodeInvalidStatus,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", to),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// NotifiesWatchers возвращает true для перехода, о котором сообщается наблюдателям.
// Наблюдатели узнают только о завершении, не о промежуточных статусах.
func NotifiesWatchers(to model.ActionStatus) bool {
	return to == model.ActionCompleted
}
