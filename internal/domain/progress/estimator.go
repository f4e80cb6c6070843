// Пакет progress — детерминированная оценка прогресса обработки записи.
//
// Прогресс — приближение для UX, а не данные сервиса извлечения:
// он вычисляется только из прошедшего времени и оценки общей длительности.
//   - uploading — фиксированные 5% сразу после Intake
//   - transcribing — линейно от 10% до 80% по мере elapsed/estimated → 1.0,
//     потолок 80% сохраняется, пока продолжается опрос
//   - complete — 100%, только после наблюдения терминального статуса
//   - failed — 0%, сообщение об ошибке передаётся как есть
package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// Границы стадий в процентах.
const (
	UploadingPercent    = 5
	TranscribingFloor   = 10
	TranscribingCeiling = 80
	CompletePercent     = 100
)

// Значения по умолчанию для оценки длительности.
const (
	DefaultMultiplier = 0.5
	DefaultFallback   = 60 * time.Second
)

// Estimator — оценщик прогресса. Нулевое значение использует значения по умолчанию.
type Estimator struct {
	// Multiplier — отношение времени обработки к длительности аудио
	Multiplier float64
	// Fallback — оценка, если длительность аудио неизвестна
	Fallback time.Duration
}

// New создаёт оценщик с указанными параметрами.
// Невалидные значения заменяются значениями по умолчанию.
func New(multiplier float64, fallback time.Duration) Estimator {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	if fallback <= 0 {
		fallback = DefaultFallback
	}
	return Estimator{Multiplier: multiplier, Fallback: fallback}
}

// EstimateTotal возвращает оценку общей длительности обработки по длительности аудио.
func (e Estimator) EstimateTotal(durationSeconds int) time.Duration {
	multiplier := e.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	fallback := e.Fallback
	if fallback <= 0 {
		fallback = DefaultFallback
	}

	if durationSeconds <= 0 {
		return fallback
	}
	total := time.Duration(float64(durationSeconds) * multiplier * float64(time.Second))
	if total < time.Second {
		return time.Second
	}
	return total
}

// Uploading возвращает прогресс сразу после Intake.
func (e Estimator) Uploading() model.ProcessingProgress {
	return model.ProcessingProgress{
		Stage:    model.StageUploading,
		Progress: UploadingPercent,
		Message:  "Uploading recording...",
	}
}

// Transcribing возвращает прогресс во время опроса.
// Значение не превышает TranscribingCeiling, сколько бы ни длился опрос.
func (e Estimator) Transcribing(elapsed, total time.Duration) model.ProcessingProgress {
	ratio := 1.0
	if total > 0 {
		ratio = math.Min(float64(elapsed)/float64(total), 1.0)
	}
	if ratio < 0 {
		ratio = 0
	}

	pct := TranscribingFloor + int(ratio*float64(TranscribingCeiling-TranscribingFloor))
	if pct > TranscribingCeiling {
		pct = TranscribingCeiling
	}

	remaining := remainingSeconds(elapsed, total)
	msg := fmt.Sprintf("Transcribing and extracting actions... about %ds remaining", remaining)
	if remaining == 0 {
		msg = "Almost done, still processing..."
	}

	return model.ProcessingProgress{
		Stage:            model.StageTranscribing,
		Progress:         pct,
		ElapsedSeconds:   seconds(elapsed),
		RemainingSeconds: remaining,
		Message:          msg,
	}
}

// Complete возвращает итоговый прогресс при успешном завершении.
// 100% независимо от оценки по времени.
func (e Estimator) Complete(elapsed time.Duration, actionsCount int, hasTranscript bool) model.ProcessingProgress {
	return model.ProcessingProgress{
		Stage:          model.StageComplete,
		Progress:       CompletePercent,
		ElapsedSeconds: seconds(elapsed),
		Message:        CompletionMessage(actionsCount, hasTranscript),
	}
}

// Failed возвращает прогресс при ошибке: 0% и сообщение как есть.
func (e Estimator) Failed(elapsed time.Duration, message string) model.ProcessingProgress {
	return model.ProcessingProgress{
		Stage:          model.StageFailed,
		Progress:       0,
		ElapsedSeconds: seconds(elapsed),
		Message:        message,
	}
}

// Derive вычисляет стадию для отображения из персистентного состояния Meeting
// и прошедшего времени. Используется, когда активного цикла опроса нет.
// partialMessage, если задан, заменяет сообщение для failed с сохранённой расшифровкой.
func (e Estimator) Derive(snap model.MeetingSnapshot, elapsed, total time.Duration, partialMessage string) model.ProcessingProgress {
	switch snap.Status {
	case model.StatusCompleted:
		return e.Complete(elapsed, snap.ActionsCount, snap.HasTranscript)
	case model.StatusFailed:
		if snap.HasTranscript {
			p := e.Complete(elapsed, snap.ActionsCount, true)
			if partialMessage != "" {
				p.Message = partialMessage
			}
			return p
		}
		msg := "Processing failed"
		if snap.Error != nil && *snap.Error != "" {
			msg = *snap.Error
		}
		return e.Failed(elapsed, msg)
	default:
		return e.Transcribing(elapsed, total)
	}
}

// CompletionMessage формирует сообщение для стадии complete.
func CompletionMessage(actionsCount int, hasTranscript bool) string {
	switch {
	case actionsCount == 1:
		return "Found 1 SMART ACT!"
	case actionsCount > 1:
		return fmt.Sprintf("Found %d SMART ACTs!", actionsCount)
	case hasTranscript:
		return "Transcript saved. No SMART ACTs found."
	default:
		return "Processing complete. No SMART ACTs found."
	}
}

func seconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func remainingSeconds(elapsed, total time.Duration) int {
	left := total - elapsed
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}
