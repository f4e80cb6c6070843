// Пакет model — доменные модели pipeline-module.
// Recording и Meeting — запись аудио и задание на её обработку.
package model

import "time"

// ProcessingStatus — персистентный статус обработки Meeting.
// Допустимы только pending → completed и pending → failed.
type ProcessingStatus string

const (
	// StatusPending — задание создано, результат ещё не получен
	StatusPending ProcessingStatus = "pending"
	// StatusCompleted — сервис извлечения завершил обработку
	StatusCompleted ProcessingStatus = "completed"
	// StatusFailed — обработка (или dispatch) завершилась ошибкой
	StatusFailed ProcessingStatus = "failed"
)

// IsTerminal возвращает true для completed и failed.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid проверяет, что статус входит в допустимый набор.
func (s ProcessingStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Recording — неизменяемая ссылка на записанное аудио.
// Создаётся один раз при Intake и больше не изменяется.
type Recording struct {
	// ID — UUID записи
	ID string
	// OwnerID — владелец (sub из JWT)
	OwnerID string
	// StoragePath — относительный путь в файловом хранилище (nil — inline payload)
	StoragePath *string
	// InlinePayload — аудио целиком, если хранилище не сконфигурировано
	InlinePayload []byte
	// ContentType — MIME-тип аудио
	ContentType string
	// SizeBytes — размер аудио в байтах
	SizeBytes int64
	// Checksum — SHA-256 содержимого (пусто для записей по ссылке)
	Checksum string
	// DurationSeconds — заявленная длительность (0 — неизвестна)
	DurationSeconds int
	// CreatedAt — время создания
	CreatedAt time.Time
}

// HasReference возвращает true, если аудио передаётся по ссылке.
func (r *Recording) HasReference() bool {
	return r.StoragePath != nil && *r.StoragePath != ""
}

// Meeting — единица оркестрации: одна запись на пути через pipeline.
type Meeting struct {
	// ID — UUID задания
	ID string
	// OwnerID — владелец
	OwnerID string
	// RecordingID — ссылка на Recording
	RecordingID string
	// Title — название встречи
	Title string
	// Type — тип встречи (meeting, voice_note, ...), свободная строка
	Type string
	// Participants — список участников
	Participants []string
	// Context — свободный текстовый контекст для сервиса извлечения
	Context *string
	// IsActive — true, пока задание не достигло терминального статуса
	IsActive bool
	// StartedAt — время создания задания
	StartedAt time.Time
	// EndedAt — время перехода в терминальный статус
	EndedAt *time.Time
	// DispatchedAt — время вызова сервиса извлечения (nil — ещё не вызван)
	DispatchedAt *time.Time
	// ProcessingStatus — pending, completed, failed
	ProcessingStatus ProcessingStatus
	// ProcessingError — сообщение об ошибке
	ProcessingError *string
	// ProcessingErrorCode — структурированная причина ошибки от сервиса извлечения
	ProcessingErrorCode *FailureCause
	// Transcript — текст расшифровки (может присутствовать и при failed)
	Transcript *string
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// HasTranscript возвращает true, если расшифровка непустая.
func (m *Meeting) HasTranscript() bool {
	return m.Transcript != nil && *m.Transcript != ""
}

// FailureCause — типизированная причина ошибки обработки.
type FailureCause string

const (
	// CauseMisconfigured — сервис извлечения неверно сконфигурирован (ключи, модель)
	CauseMisconfigured FailureCause = "misconfigured"
	// CauseQuotaExceeded — исчерпана квота сервиса извлечения
	CauseQuotaExceeded FailureCause = "quota_exceeded"
	// CauseGeneric — прочие ошибки
	CauseGeneric FailureCause = "generic"
)

// Valid проверяет, что причина входит в допустимый набор.
func (c FailureCause) Valid() bool {
	switch c {
	case CauseMisconfigured, CauseQuotaExceeded, CauseGeneric:
		return true
	}
	return false
}

// MeetingSnapshot — то, что Completion Poller читает на каждом тике.
type MeetingSnapshot struct {
	Status        ProcessingStatus
	Error         *string
	ErrorCode     *FailureCause
	HasTranscript bool
	ActionsCount  int
}
