// actions.go — операционный статус действий и уведомление наблюдателей.
// Смена статуса — факт, фиксируемый в БД; уведомление best-effort
// и никогда не отменяет уже выполненную смену статуса.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/smartact/internal/domain/actionstatus"
	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/notifier"
	"github.com/bigkaa/smartact/internal/repository"
)

var (
	statusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_action_status_transitions_total",
		Help: "Выполненные переходы статуса действий.",
	}, []string{"from", "to"})
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_notifications_total",
		Help: "Уведомления наблюдателей по результату доставки.",
	}, []string{"result"})
)

// notifyTimeout — предел времени на доставку уведомления после смены статуса.
const notifyTimeout = 15 * time.Second

// StatusUpdate — запрос смены статуса действия.
type StatusUpdate struct {
	Status         model.ActionStatus
	Note           *string
	NotifyWatchers bool
}

// ActionService — чтение действий и смена их статуса.
type ActionService struct {
	repos    repository.Repositories
	notifier notifier.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewActionService создаёт сервис. n может быть nil — уведомления отключены.
func NewActionService(repos repository.Repositories, n notifier.Notifier, logger *slog.Logger) *ActionService {
	if n == nil {
		n = notifier.Noop{}
	}
	return &ActionService{
		repos:    repos,
		notifier: n,
		logger:   logger.With(slog.String("component", "action_service")),
		now:      time.Now,
	}
}

// Get возвращает действие владельца.
func (s *ActionService) Get(ctx context.Context, ownerID, actionID string) (*model.ExtractedAction, error) {
	a, err := s.repos.Actions.GetByID(ctx, ownerID, actionID)
	if err != nil {
		return nil, mapRepoError(err, "действие "+actionID)
	}
	return a, nil
}

// ListByMeeting возвращает действия Meeting. Meeting должна принадлежать владельцу.
func (s *ActionService) ListByMeeting(ctx context.Context, ownerID, meetingID string, limit, offset int) ([]*model.ExtractedAction, int, error) {
	if _, err := s.repos.Meetings.GetByID(ctx, ownerID, meetingID); err != nil {
		return nil, 0, mapRepoError(err, "Meeting "+meetingID)
	}
	filters := repository.ActionListFilters{MeetingID: &meetingID}
	items, err := s.repos.Actions.List(ctx, ownerID, filters, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список действий: %w", err)
	}
	total, err := s.repos.Actions.Count(ctx, ownerID, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("количество действий: %w", err)
	}
	return items, total, nil
}

// UpdateStatus меняет операционный статус действия.
// Переход в completed недоступен, пока действие ожидает проверки.
// Если запрошено уведомление и переход его предусматривает, наблюдатели
// получают событие; ошибка доставки логируется и не возвращается.
func (s *ActionService) UpdateStatus(ctx context.Context, ownerID, actionID string, upd StatusUpdate) (*model.ExtractedAction, error) {
	current, err := s.repos.Actions.GetByID(ctx, ownerID, actionID)
	if err != nil {
		return nil, mapRepoError(err, "действие "+actionID)
	}

	if err := actionstatus.Validate(current.Status, upd.Status); err != nil {
		var te *actionstatus.TransitionError
		if errors.As(err, &te) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, te.Message)
		}
		return nil, err
	}
	if upd.Status == model.ActionCompleted && current.RequiresReview {
		return nil, fmt.Errorf("%w: действие %s", ErrReviewPending, actionID)
	}

	updated, err := s.repos.Actions.UpdateStatus(ctx, ownerID, actionID, current.Status, upd.Status, trimNote(upd.Note))
	if err != nil {
		return nil, mapRepoError(err, "действие "+actionID)
	}

	statusTransitionsTotal.WithLabelValues(string(current.Status), string(upd.Status)).Inc()
	s.logger.Info("Статус действия изменён",
		slog.String("action_id", actionID),
		slog.String("owner_id", ownerID),
		slog.String("from", string(current.Status)),
		slog.String("to", string(upd.Status)),
	)

	if upd.NotifyWatchers && actionstatus.NotifiesWatchers(upd.Status) {
		s.notify(ctx, updated)
	}
	return updated, nil
}

// notify отправляет событие завершения. Отмена запроса клиента не прерывает доставку.
func (s *ActionService) notify(ctx context.Context, a *model.ExtractedAction) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := s.notifier.NotifyCompletion(nctx, notifier.CompletionEvent{
		ActionID:         a.ID,
		UserID:           a.OwnerID,
		ActionTitle:      a.ActionText,
		CompletionStatus: string(a.Status),
		Note:             a.StatusNote,
		OccurredAt:       s.now().UTC(),
	})
	if err != nil {
		notificationsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("Не удалось уведомить наблюдателей",
			slog.String("action_id", a.ID),
			slog.String("owner_id", a.OwnerID),
			slog.String("error", err.Error()),
		)
		return
	}
	notificationsTotal.WithLabelValues("delivered").Inc()
}
