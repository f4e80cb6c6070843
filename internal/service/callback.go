// callback.go — приём результата от сервиса извлечения.
// Терминальная запись Meeting и вставка действий выполняются в одной транзакции;
// повторный callback получает ErrAlreadyTerminal.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/repository"
)

var (
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_callbacks_total",
		Help: "Результаты обработки callback сервиса извлечения.",
	}, []string{"status", "result"})
	actionsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_actions_ingested_total",
		Help: "Количество сохранённых действий по признаку проверки.",
	}, []string{"requires_review"})
)

// defaultPriority — приоритет действия, если сервис его не указал.
const defaultPriority = 3

// ActionInput — действие в результате сервиса извлечения.
type ActionInput struct {
	ActionText       string
	Assignee         *string
	DueContext       *string
	Priority         *int
	Category         string
	ValidationScore  int
	ValidationIssues []string
	ConfidenceScore  float64
}

// ResultRequest — результат обработки Meeting.
type ResultRequest struct {
	Status     model.ProcessingStatus
	Transcript *string
	Error      *string
	ErrorCode  *model.FailureCause
	Actions    []ActionInput
}

// ResultSummary — итог применения результата.
type ResultSummary struct {
	Meeting       *model.Meeting
	ActionsCount  int
	ReviewPending int
}

// CallbackService — применение результатов сервиса извлечения.
type CallbackService struct {
	tx        Transactor
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewCallbackService создаёт сервис.
// threshold — порог уверенности, ниже которого действие требует проверки.
func NewCallbackService(tx Transactor, threshold float64, logger *slog.Logger) *CallbackService {
	return &CallbackService{
		tx:        tx,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "callback_service")),
		now:       time.Now,
	}
}

// CompleteMeeting переводит Meeting в терминальный статус и сохраняет действия.
func (s *CallbackService) CompleteMeeting(ctx context.Context, meetingID string, req ResultRequest) (*ResultSummary, error) {
	if err := validateResult(&req); err != nil {
		callbacksTotal.WithLabelValues(string(req.Status), "invalid").Inc()
		return nil, err
	}

	summary := &ResultSummary{}
	err := s.tx.InTx(ctx, func(r repository.Repositories) error {
		meeting, err := r.Meetings.Finish(ctx, meetingID, repository.TerminalUpdate{
			Status:     req.Status,
			Transcript: req.Transcript,
			Error:      req.Error,
			ErrorCode:  req.ErrorCode,
			EndedAt:    s.now().UTC(),
		})
		if err != nil {
			if errors.Is(err, repository.ErrPrecondition) {
				return fmt.Errorf("%w: Meeting %s", ErrAlreadyTerminal, meetingID)
			}
			return mapRepoError(err, "Meeting "+meetingID)
		}
		summary.Meeting = meeting

		actions := s.buildActions(meeting, req.Actions)
		if len(actions) > 0 {
			if err := r.Actions.CreateBatch(ctx, actions); err != nil {
				return mapRepoError(err, "сохранение действий")
			}
		}
		summary.ActionsCount = len(actions)
		for _, a := range actions {
			if a.RequiresReview {
				summary.ReviewPending++
			}
		}
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrAlreadyTerminal) {
			result = "duplicate"
		}
		callbacksTotal.WithLabelValues(string(req.Status), result).Inc()
		return nil, err
	}

	callbacksTotal.WithLabelValues(string(req.Status), "applied").Inc()
	actionsIngestedTotal.WithLabelValues("true").Add(float64(summary.ReviewPending))
	actionsIngestedTotal.WithLabelValues("false").Add(float64(summary.ActionsCount - summary.ReviewPending))

	s.logger.Info("Результат обработки применён",
		slog.String("meeting_id", meetingID),
		slog.String("owner_id", summary.Meeting.OwnerID),
		slog.String("status", string(req.Status)),
		slog.Int("actions", summary.ActionsCount),
		slog.Int("review_pending", summary.ReviewPending),
		slog.Bool("has_transcript", summary.Meeting.HasTranscript()),
	)
	return summary, nil
}

// buildActions создаёт ExtractedAction и нормализует оценки валидации.
// Владелец берётся из Meeting, а не из запроса.
func (s *CallbackService) buildActions(meeting *model.Meeting, inputs []ActionInput) []*model.ExtractedAction {
	actions := make([]*model.ExtractedAction, 0, len(inputs))
	for _, in := range inputs {
		priority := defaultPriority
		if in.Priority != nil {
			priority = *in.Priority
		}
		a := &model.ExtractedAction{
			ID:               uuid.New().String(),
			OwnerID:          meeting.OwnerID,
			MeetingID:        meeting.ID,
			ActionText:       strings.TrimSpace(in.ActionText),
			Assignee:         in.Assignee,
			DueContext:       in.DueContext,
			Priority:         priority,
			Category:         in.Category,
			ValidationScore:  in.ValidationScore,
			ValidationIssues: append([]string(nil), in.ValidationIssues...),
			ConfidenceScore:  in.ConfidenceScore,
			Status:           model.ActionNotStarted,
			ExtractionMethod: model.MethodAutomatic,
		}
		a.NormalizeValidation(s.threshold)
		actions = append(actions, a)
	}
	return actions
}

// validateResult проверяет результат до открытия транзакции.
func validateResult(req *ResultRequest) error {
	if !req.Status.IsTerminal() {
		return fmt.Errorf("%w: status должен быть completed или failed", ErrValidation)
	}
	if req.ErrorCode != nil && !req.ErrorCode.Valid() {
		return fmt.Errorf("%w: недопустимый error_code %q", ErrValidation, *req.ErrorCode)
	}
	if req.Status == model.StatusCompleted && (req.Error != nil || req.ErrorCode != nil) {
		return fmt.Errorf("%w: error и error_code допустимы только для failed", ErrValidation)
	}
	if req.Status == model.StatusFailed && req.Error == nil {
		msg := "processing failed"
		req.Error = &msg
	}
	if req.Transcript != nil && strings.TrimSpace(*req.Transcript) == "" {
		req.Transcript = nil
	}
	for i, a := range req.Actions {
		if strings.TrimSpace(a.ActionText) == "" {
			return fmt.Errorf("%w: actions[%d].action_text обязателен", ErrValidation, i)
		}
	}
	return nil
}
