package model

import "time"

// ExtractionMethod — способ получения действия.
type ExtractionMethod string

const (
	// MethodAutomatic — действие извлечено сервисом
	MethodAutomatic ExtractionMethod = "automatic"
	// MethodManual — действие подтверждено или отредактировано человеком
	MethodManual ExtractionMethod = "manual"
)

// ActionStatus — операционный статус действия.
// Переходы описаны в пакете actionstatus.
type ActionStatus string

const (
	ActionNotStarted ActionStatus = "not_started"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionOnHold     ActionStatus = "on_hold"
	ActionCancelled  ActionStatus = "cancelled"
)

// MaxValidationScore — оценка полностью валидированного действия.
const MaxValidationScore = 100

// IssueLowConfidence — замечание, добавляемое при низкой уверенности извлечения.
const IssueLowConfidence = "low_confidence"

// ExtractedAction — кандидат в действие, извлечённый из расшифровки Meeting.
type ExtractedAction struct {
	// ID — UUID действия
	ID string
	// OwnerID — владелец
	OwnerID string
	// MeetingID — ссылка на Meeting
	MeetingID string
	// ActionText — формулировка действия
	ActionText string
	// Assignee — ответственный (опционально)
	Assignee *string
	// DueContext — срок в свободной форме ("до пятницы")
	DueContext *string
	// Priority — порядковый приоритет, меньше = срочнее
	Priority int
	// Category — категория (свободная строка)
	Category string
	// ValidationScore — оценка качества 0–100
	ValidationScore int
	// ValidationIssues — замечания валидатора
	ValidationIssues []string
	// ConfidenceScore — уверенность извлечения 0.0–1.0
	ConfidenceScore float64
	// RequiresReview — действие ожидает решения человека
	RequiresReview bool
	// Status — операционный статус
	Status ActionStatus
	// StatusNote — комментарий к последней смене статуса
	StatusNote *string
	// ExtractionMethod — automatic или manual
	ExtractionMethod ExtractionMethod
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// NormalizeValidation приводит оценки, пришедшие от сервиса извлечения,
// к инварианту requires_review ⇔ validation_score < 100.
//
// Действие требует проверки, если оценка ниже 100, есть замечания или
// уверенность ниже порога. Помеченное действие с оценкой 100 получает 99.
func (a *ExtractedAction) NormalizeValidation(confidenceThreshold float64) {
	if a.ValidationScore < 0 {
		a.ValidationScore = 0
	}
	if a.ValidationScore > MaxValidationScore {
		a.ValidationScore = MaxValidationScore
	}
	if a.ConfidenceScore < 0 {
		a.ConfidenceScore = 0
	}
	if a.ConfidenceScore > 1 {
		a.ConfidenceScore = 1
	}

	if a.ConfidenceScore < confidenceThreshold && !containsString(a.ValidationIssues, IssueLowConfidence) {
		a.ValidationIssues = append(a.ValidationIssues, IssueLowConfidence)
	}

	a.RequiresReview = a.ValidationScore < MaxValidationScore || len(a.ValidationIssues) > 0
	if a.RequiresReview && a.ValidationScore == MaxValidationScore {
		a.ValidationScore = MaxValidationScore - 1
	}
	if a.ValidationIssues == nil {
		a.ValidationIssues = []string{}
	}
}

// MarkReviewed фиксирует решение человека: проверенное действие
// по определению валидировано на 100%.
func (a *ExtractedAction) MarkReviewed() {
	a.RequiresReview = false
	a.ValidationScore = MaxValidationScore
	a.ExtractionMethod = MethodManual
}

// ActionEdits — изменения полей при подтверждении с редактированием.
// nil-поле — без изменений.
type ActionEdits struct {
	ActionText *string `json:"action_text,omitempty"`
	Assignee   *string `json:"assignee,omitempty"`
	DueContext *string `json:"due_context,omitempty"`
	Priority   *int    `json:"priority,omitempty"`
	Category   *string `json:"category,omitempty"`
}

// IsEmpty возвращает true, если ни одно поле не задано.
func (e *ActionEdits) IsEmpty() bool {
	return e == nil || (e.ActionText == nil && e.Assignee == nil &&
		e.DueContext == nil && e.Priority == nil && e.Category == nil)
}

// Apply применяет изменения к действию.
func (e *ActionEdits) Apply(a *ExtractedAction) {
	if e == nil {
		return
	}
	if e.ActionText != nil {
		a.ActionText = *e.ActionText
	}
	if e.Assignee != nil {
		a.Assignee = e.Assignee
	}
	if e.DueContext != nil {
		a.DueContext = e.DueContext
	}
	if e.Priority != nil {
		a.Priority = *e.Priority
	}
	if e.Category != nil {
		a.Category = *e.Category
	}
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
