package model

import (
	"encoding/json"
	"time"
)

// Decision — решение человека по действию из очереди проверки.
type Decision string

const (
	DecisionConfirmed Decision = "confirmed"
	DecisionModified  Decision = "modified"
	DecisionRejected  Decision = "rejected"
)

// ActionConfirmation — запись аудита решения. Только добавление.
type ActionConfirmation struct {
	// ID — UUID записи
	ID string
	// OwnerID — владелец
	OwnerID string
	// ActionID — действие, по которому принято решение.
	// Для rejected действие уже удалено, ссылка сохраняется для аудита.
	ActionID string
	// Decision — confirmed, modified, rejected
	Decision Decision
	// Modifications — изменения (modified) или снимок удалённого действия (rejected)
	Modifications json.RawMessage
	// Note — комментарий проверяющего
	Note *string
	// CreatedAt — время решения
	CreatedAt time.Time
}
