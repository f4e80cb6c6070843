// outcome.go — итог цикла опроса и классификация причин ошибки.
package poller

import (
	"strings"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// Kind — вид итога обработки задания.
type Kind string

const (
	// KindCompleted — задание завершено успешно
	KindCompleted Kind = "completed"
	// KindPartial — задание завершилось ошибкой, но расшифровка сохранена
	KindPartial Kind = "partial"
	// KindFailed — задание завершилось ошибкой без расшифровки
	KindFailed Kind = "failed"
	// KindTimedOut — попытки исчерпаны, задание ещё обрабатывается
	KindTimedOut Kind = "timed_out"
	// KindDispatchFailed — сервис извлечения не принял задание
	KindDispatchFailed Kind = "dispatch_failed"
	// KindCancelled — опрос прерван вызывающей стороной, задание не затронуто
	KindCancelled Kind = "cancelled"
)

// Outcome — итог оркестрации. Ошибки опроса не пробрасываются,
// а превращаются в один из видов итога.
type Outcome struct {
	Kind          Kind               `json:"kind"`
	MeetingID     string             `json:"meeting_id"`
	Success       bool               `json:"success"`
	ActionsCount  int                `json:"actions_count"`
	HasTranscript bool               `json:"has_transcript"`
	Cause         model.FailureCause `json:"cause,omitempty"`
	// Error — сохранённое сообщение об ошибке как есть
	Error string `json:"error,omitempty"`
	// Message — текст для пользователя
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// Terminal возвращает true, если задание достигло терминального статуса.
func (o Outcome) Terminal() bool {
	return o.Kind == KindCompleted || o.Kind == KindPartial || o.Kind == KindFailed || o.Kind == KindDispatchFailed
}

// Сообщения для пользователя.
const (
	MsgMisconfigured = "The transcription service is not configured correctly. Please contact support."
	MsgQuotaExceeded = "The transcription service is over its usage quota. Please try again later."
	MsgGeneric       = "Processing failed. Please try again."
	MsgTimedOut      = "Still processing. Results will appear here when ready, check back shortly."
	MsgCancelled     = "Stopped waiting. Processing continues in the background."
)

// Подстроки, по которым классифицируется сообщение без кода причины.
var (
	misconfiguredMarkers = []string{"api key", "api_key", "apikey", "not configured", "misconfigur", "unauthorized", "invalid credentials"}
	quotaMarkers         = []string{"quota", "rate limit", "rate_limit", "insufficient_quota", "too many requests", "429"}
)

// ClassifyFailure определяет причину ошибки. Типизированный код имеет приоритет,
// сопоставление подстрок используется, только если кода нет.
func ClassifyFailure(code *model.FailureCause, message string) model.FailureCause {
	if code != nil && code.Valid() {
		return *code
	}

	lower := strings.ToLower(message)
	for _, m := range misconfiguredMarkers {
		if strings.Contains(lower, m) {
			return model.CauseMisconfigured
		}
	}
	for _, m := range quotaMarkers {
		if strings.Contains(lower, m) {
			return model.CauseQuotaExceeded
		}
	}
	return model.CauseGeneric
}

// FailureMessage возвращает текст для пользователя по причине ошибки.
func FailureMessage(cause model.FailureCause) string {
	switch cause {
	case model.CauseMisconfigured:
		return MsgMisconfigured
	case model.CauseQuotaExceeded:
		return MsgQuotaExceeded
	default:
		return MsgGeneric
	}
}

// PartialMessage возвращает текст для частичного успеха: расшифровка сохранена,
// действия не извлечены.
func PartialMessage(cause model.FailureCause) string {
	switch cause {
	case model.CauseMisconfigured:
		return "Transcript saved, but action extraction is not configured correctly."
	case model.CauseQuotaExceeded:
		return "Transcript saved, but action extraction is over its usage quota. Try again later."
	default:
		return "Transcript saved, but actions could not be extracted."
	}
}

// FromSnapshot строит итог по терминальному снимку Meeting.
// Для нетерминального снимка ok = false.
func FromSnapshot(meetingID string, snap model.MeetingSnapshot) (Outcome, bool) {
	out := Outcome{
		MeetingID:     meetingID,
		ActionsCount:  snap.ActionsCount,
		HasTranscript: snap.HasTranscript,
	}
	if snap.Error != nil {
		out.Error = *snap.Error
	}

	switch snap.Status {
	case model.StatusCompleted:
		out.Kind = KindCompleted
		out.Success = true
		return out, true
	case model.StatusFailed:
		out.Cause = ClassifyFailure(snap.ErrorCode, out.Error)
		if snap.HasTranscript {
			out.Kind = KindPartial
			out.Success = true
			out.Message = PartialMessage(out.Cause)
			return out, true
		}
		out.Kind = KindFailed
		out.Message = FailureMessage(out.Cause)
		return out, true
	default:
		return Outcome{}, false
	}
}
