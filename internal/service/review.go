// review.go — Review Queue: действия, ожидающие решения человека.
// Каждое решение фиксируется записью ActionConfirmation в той же транзакции,
// что и изменение действия.
package service

import (
	"context"
	"encoding/json"
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

var reviewDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_module_review_decisions_total",
	Help: "Решения по очереди проверки.",
}, []string{"decision"})

// bulkConfirmPage — размер страницы, которой ConfirmAll читает очередь.
const bulkConfirmPage = 200

// BulkFailure — действие, которое не удалось подтвердить при массовой операции.
type BulkFailure struct {
	ActionID string
	Err      error
}

// BulkResult — итог ConfirmAll.
type BulkResult struct {
	Confirmed []string
	Failed    []BulkFailure
}

// rejectedSnapshot — снимок удаляемого действия в записи аудита.
type rejectedSnapshot struct {
	MeetingID        string   `json:"meeting_id"`
	ActionText       string   `json:"action_text"`
	Assignee         *string  `json:"assignee,omitempty"`
	DueContext       *string  `json:"due_context,omitempty"`
	Priority         int      `json:"priority"`
	Category         string   `json:"category"`
	ValidationScore  int      `json:"validation_score"`
	ValidationIssues []string `json:"validation_issues"`
	ConfidenceScore  float64  `json:"confidence_score"`
}

// ReviewService — операции очереди проверки.
type ReviewService struct {
	repos  repository.Repositories
	tx     Transactor
	logger *slog.Logger
	now    func() time.Time
}

// NewReviewService создаёт сервис.
func NewReviewService(repos repository.Repositories, tx Transactor, logger *slog.Logger) *ReviewService {
	return &ReviewService{
		repos:  repos,
		tx:     tx,
		logger: logger.With(slog.String("component", "review_service")),
		now:    time.Now,
	}
}

func reviewFilters() repository.ActionListFilters {
	pending := true
	return repository.ActionListFilters{RequiresReview: &pending}
}

// List возвращает действия владельца, требующие проверки, новые первыми.
func (s *ReviewService) List(ctx context.Context, ownerID string, limit, offset int) ([]*model.ExtractedAction, int, error) {
	filters := reviewFilters()
	items, err := s.repos.Actions.List(ctx, ownerID, filters, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список очереди проверки: %w", err)
	}
	total, err := s.repos.Actions.Count(ctx, ownerID, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("размер очереди проверки: %w", err)
	}
	return items, total, nil
}

// Confirm подтверждает действие, при наличии edits применяет изменения.
// Повторное подтверждение без изменений возвращает действие как есть.
func (s *ReviewService) Confirm(ctx context.Context, ownerID, actionID string, edits *model.ActionEdits, note *string) (*model.ExtractedAction, error) {
	if err := validateEdits(edits); err != nil {
		return nil, err
	}

	var (
		result   *model.ExtractedAction
		decision model.Decision
	)
	err := s.tx.InTx(ctx, func(r repository.Repositories) error {
		a, err := r.Actions.GetForUpdate(ctx, ownerID, actionID)
		if err != nil {
			return mapRepoError(err, "действие "+actionID)
		}
		if !a.RequiresReview && edits.IsEmpty() {
			result = a
			return nil
		}

		decision = model.DecisionConfirmed
		var modifications json.RawMessage
		if !edits.IsEmpty() {
			decision = model.DecisionModified
			raw, err := json.Marshal(edits)
			if err != nil {
				return fmt.Errorf("сериализация изменений: %w", err)
			}
			modifications = raw
			edits.Apply(a)
		}
		a.MarkReviewed()

		if err := r.Actions.SaveReview(ctx, a); err != nil {
			return mapRepoError(err, "действие "+actionID)
		}
		if err := r.Confirmations.Create(ctx, &model.ActionConfirmation{
			ID:            uuid.New().String(),
			OwnerID:       ownerID,
			ActionID:      a.ID,
			Decision:      decision,
			Modifications: modifications,
			Note:          trimNote(note),
			CreatedAt:     s.now().UTC(),
		}); err != nil {
			return mapRepoError(err, "запись подтверждения")
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	if decision != "" {
		reviewDecisionsTotal.WithLabelValues(string(decision)).Inc()
		s.logger.Info("Действие подтверждено",
			slog.String("action_id", actionID),
			slog.String("owner_id", ownerID),
			slog.String("decision", string(decision)),
		)
	}
	return result, nil
}

// Reject удаляет действие. Снимок действия сохраняется в записи аудита rejected.
func (s *ReviewService) Reject(ctx context.Context, ownerID, actionID string, note *string) error {
	err := s.tx.InTx(ctx, func(r repository.Repositories) error {
		a, err := r.Actions.GetForUpdate(ctx, ownerID, actionID)
		if err != nil {
			return mapRepoError(err, "действие "+actionID)
		}

		snapshot, err := json.Marshal(rejectedSnapshot{
			MeetingID:        a.MeetingID,
			ActionText:       a.ActionText,
			Assignee:         a.Assignee,
			DueContext:       a.DueContext,
			Priority:         a.Priority,
			Category:         a.Category,
			ValidationScore:  a.ValidationScore,
			ValidationIssues: a.ValidationIssues,
			ConfidenceScore:  a.ConfidenceScore,
		})
		if err != nil {
			return fmt.Errorf("сериализация снимка действия: %w", err)
		}

		if err := r.Confirmations.Create(ctx, &model.ActionConfirmation{
			ID:            uuid.New().String(),
			OwnerID:       ownerID,
			ActionID:      a.ID,
			Decision:      model.DecisionRejected,
			Modifications: snapshot,
			Note:          trimNote(note),
			CreatedAt:     s.now().UTC(),
		}); err != nil {
			return mapRepoError(err, "запись отклонения")
		}
		if err := r.Actions.Delete(ctx, ownerID, a.ID); err != nil {
			return mapRepoError(err, "действие "+actionID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	reviewDecisionsTotal.WithLabelValues(string(model.DecisionRejected)).Inc()
	s.logger.Info("Действие отклонено и удалено",
		slog.String("action_id", actionID),
		slog.String("owner_id", ownerID),
	)
	return nil
}

// ConfirmAll подтверждает без изменений все действия, находящиеся в очереди.
// Очередь читается целиком до начала подтверждений. Каждое действие
// подтверждается в своей транзакции: ошибка одного не откатывает остальные
// и возвращается в BulkResult.Failed.
func (s *ReviewService) ConfirmAll(ctx context.Context, ownerID string) (*BulkResult, error) {
	items, err := s.listQueue(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{Confirmed: []string{}, Failed: []BulkFailure{}}
	for _, item := range items {
		if ctx.Err() != nil {
			result.Failed = append(result.Failed, BulkFailure{ActionID: item.ID, Err: ctx.Err()})
			continue
		}
		if _, err := s.Confirm(ctx, ownerID, item.ID, nil, nil); err != nil {
			s.logger.Warn("Не удалось подтвердить действие",
				slog.String("action_id", item.ID),
				slog.String("owner_id", ownerID),
				slog.String("error", err.Error()),
			)
			result.Failed = append(result.Failed, BulkFailure{ActionID: item.ID, Err: err})
			continue
		}
		result.Confirmed = append(result.Confirmed, item.ID)
	}
	return result, nil
}

// listQueue постранично читает всю очередь проверки владельца.
// Действие, попавшее на две страницы из-за сдвига, возвращается один раз.
func (s *ReviewService) listQueue(ctx context.Context, ownerID string) ([]*model.ExtractedAction, error) {
	var (
		items []*model.ExtractedAction
		seen  = make(map[string]struct{})
	)
	for offset := 0; ; offset += bulkConfirmPage {
		page, err := s.repos.Actions.List(ctx, ownerID, reviewFilters(), bulkConfirmPage, offset)
		if err != nil {
			return nil, fmt.Errorf("список очереди проверки: %w", err)
		}
		for _, a := range page {
			if _, dup := seen[a.ID]; dup {
				continue
			}
			seen[a.ID] = struct{}{}
			items = append(items, a)
		}
		if len(page) < bulkConfirmPage {
			return items, nil
		}
	}
}

// History возвращает записи аудита по действию, в том числе по удалённому.
func (s *ReviewService) History(ctx context.Context, ownerID, actionID string) ([]*model.ActionConfirmation, error) {
	items, err := s.repos.Confirmations.ListByAction(ctx, ownerID, actionID)
	if err != nil {
		return nil, fmt.Errorf("история решений: %w", err)
	}
	return items, nil
}

func validateEdits(e *model.ActionEdits) error {
	if e == nil {
		return nil
	}
	if e.ActionText != nil {
		text := strings.TrimSpace(*e.ActionText)
		if text == "" {
			return fmt.Errorf("%w: action_text не может быть пустым", ErrValidation)
		}
		e.ActionText = &text
	}
	if e.Priority != nil && *e.Priority < 1 {
		return fmt.Errorf("%w: priority должен быть положительным", ErrValidation)
	}
	return nil
}

func trimNote(note *string) *string {
	if note == nil {
		return nil
	}
	n := strings.TrimSpace(*note)
	if n == "" {
		return nil
	}
	return &n
}
