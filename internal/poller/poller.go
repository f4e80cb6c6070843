// Пакет poller — Completion Poller: ожидание терминального статуса Meeting.
//
// Poller изолирован за интерфейсом, чтобы вызывающий код не зависел от способа
// получения сигнала завершения. CompletionPoller опрашивает StatusSource
// с фиксированным интервалом до исчерпания попыток.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/domain/progress"
)

// Значения по умолчанию.
const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// StatusSource — источник состояния Meeting для одного тика опроса.
// Реализуется репозиторием (на сервере) и HTTP-клиентом (в CLI).
type StatusSource interface {
	// Snapshot возвращает статус, ошибку, наличие расшифровки
	// и количество ExtractedAction для Meeting.
	Snapshot(ctx context.Context, ownerID, meetingID string) (model.MeetingSnapshot, error)
}

// Poller — ожидание завершения задания.
type Poller interface {
	// Wait блокируется до терминального статуса, исчерпания попыток или отмены ctx.
	// Ошибки превращаются в Outcome, onProgress вызывается на каждом тике.
	Wait(ctx context.Context, handle model.JobHandle, onProgress model.ProgressFunc) Outcome
}

// Options — параметры CompletionPoller.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Estimator   progress.Estimator
	Logger      *slog.Logger
}

// CompletionPoller — Poller на основе периодического опроса StatusSource.
type CompletionPoller struct {
	source      StatusSource
	interval    time.Duration
	maxAttempts int
	estimator   progress.Estimator
	logger      *slog.Logger

	// sleep и now подменяются в тестах
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New создаёт CompletionPoller.
func New(source StatusSource, opts Options) *CompletionPoller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CompletionPoller{
		source:      source,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		estimator:   opts.Estimator,
		logger:      opts.Logger.With(slog.String("component", "completion_poller")),
		sleep:       sleepContext,
		now:         time.Now,
	}
}

// Wait реализует Poller.
func (p *CompletionPoller) Wait(ctx context.Context, handle model.JobHandle, onProgress model.ProgressFunc) Outcome {
	emit := func(pp model.ProcessingProgress) {
		if onProgress != nil {
			onProgress(pp)
		}
	}

	total := handle.EstimatedTotal
	if total <= 0 {
		total = p.estimator.EstimateTotal(0)
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.sleep(ctx, p.interval); err != nil {
			p.logger.Info("Опрос прерван",
				slog.String("meeting_id", handle.MeetingID),
				slog.Int("attempt", attempt),
			)
			return Outcome{
				Kind:      KindCancelled,
				MeetingID: handle.MeetingID,
				Message:   MsgCancelled,
				Attempts:  attempt - 1,
			}
		}

		elapsed := handle.Elapsed(p.now())
		snap, err := p.source.Snapshot(ctx, handle.OwnerID, handle.MeetingID)
		if err != nil {
			// Ошибка чтения не терминальна: тик засчитывается, опрос продолжается
			p.logger.Warn("Ошибка чтения статуса",
				slog.String("meeting_id", handle.MeetingID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			emit(p.estimator.Transcribing(elapsed, total))
			continue
		}

		out, terminal := FromSnapshot(handle.MeetingID, snap)
		if !terminal {
			emit(p.estimator.Transcribing(elapsed, total))
			continue
		}

		out.Attempts = attempt
		switch out.Kind {
		case KindCompleted:
			final := p.estimator.Complete(elapsed, out.ActionsCount, out.HasTranscript)
			out.Message = final.Message
			emit(final)
		case KindPartial:
			final := p.estimator.Complete(elapsed, out.ActionsCount, true)
			final.Message = out.Message
			emit(final)
		default:
			emit(p.estimator.Failed(elapsed, out.Error))
		}

		p.logger.Info("Задание завершено",
			slog.String("meeting_id", handle.MeetingID),
			slog.String("outcome", string(out.Kind)),
			slog.Int("actions_count", out.ActionsCount),
			slog.Int("attempts", attempt),
		)
		return out
	}

	p.logger.Warn("Попытки опроса исчерпаны, задание ещё обрабатывается",
		slog.String("meeting_id", handle.MeetingID),
		slog.Int("max_attempts", p.maxAttempts),
	)
	return Outcome{
		Kind:      KindTimedOut,
		MeetingID: handle.MeetingID,
		Message:   MsgTimedOut,
		Attempts:  p.maxAttempts,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DispatchFailed строит итог для ошибки dispatch: опрос не выполнялся.
func DispatchFailed(meetingID string, err error) Outcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	cause := ClassifyFailure(nil, msg)
	var coded interface{ Cause() model.FailureCause }
	if errors.As(err, &coded) {
		cause = coded.Cause()
	}
	return Outcome{
		Kind:      KindDispatchFailed,
		MeetingID: meetingID,
		Cause:     cause,
		Error:     msg,
		Message:   FailureMessage(cause),
	}
}
