package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// ActionRepository — доступ к таблице extracted_actions.
type ActionRepository interface {
	// CreateBatch сохраняет действия, извлечённые из одной Meeting.
	CreateBatch(ctx context.Context, actions []*model.ExtractedAction) error
	// GetByID возвращает действие владельца.
	GetByID(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error)
	// GetForUpdate возвращает действие с блокировкой строки (только внутри транзакции).
	GetForUpdate(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error)
	// List возвращает действия владельца, новые первыми.
	List(ctx context.Context, ownerID string, filters ActionListFilters, limit, offset int) ([]*model.ExtractedAction, error)
	// Count возвращает количество действий владельца.
	Count(ctx context.Context, ownerID string, filters ActionListFilters) (int, error)
	// SaveReview сохраняет результат проверки: поля, оценку, признак проверки, способ.
	SaveReview(ctx context.Context, a *model.ExtractedAction) error
	// UpdateStatus меняет операционный статус, если текущий статус равен from.
	UpdateStatus(ctx context.Context, ownerID, id string, from, to model.ActionStatus, note *string) (*model.ExtractedAction, error)
	// Delete удаляет действие.
	Delete(ctx context.Context, ownerID, id string) error
}

// ActionListFilters — фильтры списка действий.
type ActionListFilters struct {
	MeetingID      *string
	RequiresReview *bool
	Status         *model.ActionStatus
}

type actionRepo struct {
	db DBTX
}

// NewActionRepository создаёт репозиторий действий.
func NewActionRepository(db DBTX) ActionRepository {
	return &actionRepo{db: db}
}

const actionColumns = `id, owner_id, meeting_id, action_text, assignee, due_context, priority,
	category, validation_score, validation_issues, confidence_score, requires_review,
	status, status_note, extraction_method, created_at, updated_at`

func scanAction(row scanner) (*model.ExtractedAction, error) {
	a := &model.ExtractedAction{}
	var status, method string
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.MeetingID, &a.ActionText, &a.Assignee, &a.DueContext, &a.Priority,
		&a.Category, &a.ValidationScore, &a.ValidationIssues, &a.ConfidenceScore, &a.RequiresReview,
		&status, &a.StatusNote, &method, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = model.ActionStatus(status)
	a.ExtractionMethod = model.ExtractionMethod(method)
	if a.ValidationIssues == nil {
		a.ValidationIssues = []string{}
	}
	return a, nil
}

func (r *actionRepo) CreateBatch(ctx context.Context, actions []*model.ExtractedAction) error {
	query := `
		INSERT INTO extracted_actions (id, owner_id, meeting_id, action_text, assignee, due_context,
			priority, category, validation_score, validation_issues, confidence_score,
			requires_review, status, extraction_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	for _, a := range actions {
		issues := a.ValidationIssues
		if issues == nil {
			issues = []string{}
		}
		err := r.db.QueryRow(ctx, query,
			a.ID, a.OwnerID, a.MeetingID, a.ActionText, a.Assignee, a.DueContext,
			a.Priority, a.Category, a.ValidationScore, issues, a.ConfidenceScore,
			a.RequiresReview, string(a.Status), string(a.ExtractionMethod),
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			switch {
			case isUniqueViolation(err):
				return fmt.Errorf("%w: действие %s уже существует", ErrConflict, a.ID)
			case isForeignKeyViolation(err):
				return fmt.Errorf("%w: Meeting %s", ErrNotFound, a.MeetingID)
			case isCheckViolation(err):
				return fmt.Errorf("%w: действие %s нарушает ограничения схемы", ErrPrecondition, a.ID)
			}
			return fmt.Errorf("ошибка создания действия: %w", err)
		}
	}
	return nil
}

func (r *actionRepo) GetByID(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error) {
	return r.get(ctx, `SELECT `+actionColumns+` FROM extracted_actions WHERE id = $1 AND owner_id = $2`, ownerID, id)
}

func (r *actionRepo) GetForUpdate(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error) {
	return r.get(ctx, `SELECT `+actionColumns+` FROM extracted_actions WHERE id = $1 AND owner_id = $2 FOR UPDATE`, ownerID, id)
}

func (r *actionRepo) get(ctx context.Context, query, ownerID, id string) (*model.ExtractedAction, error) {
	a, err := scanAction(r.db.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения действия: %w", err)
	}
	return a, nil
}

// buildActionWhere строит WHERE-условие для списка действий владельца.
func buildActionWhere(ownerID string, filters ActionListFilters, startArg int) (string, []any) {
	conditions := []string{fmt.Sprintf("owner_id = $%d", startArg)}
	args := []any{ownerID}
	argNum := startArg + 1

	if filters.MeetingID != nil {
		conditions = append(conditions, fmt.Sprintf("meeting_id = $%d", argNum))
		args = append(args, *filters.MeetingID)
		argNum++
	}
	if filters.RequiresReview != nil {
		conditions = append(conditions, fmt.Sprintf("requires_review = $%d", argNum))
		args = append(args, *filters.RequiresReview)
		argNum++
	}
	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(*filters.Status))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *actionRepo) List(ctx context.Context, ownerID string, filters ActionListFilters, limit, offset int) ([]*model.ExtractedAction, error) {
	where, args := buildActionWhere(ownerID, filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`SELECT %s FROM extracted_actions %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, actionColumns, where, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка действий: %w", err)
	}
	defer rows.Close()

	result := []*model.ExtractedAction{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования действия: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *actionRepo) Count(ctx context.Context, ownerID string, filters ActionListFilters) (int, error) {
	where, args := buildActionWhere(ownerID, filters, 1)

	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM extracted_actions "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта действий: %w", err)
	}
	return count, nil
}

func (r *actionRepo) SaveReview(ctx context.Context, a *model.ExtractedAction) error {
	query := `
		UPDATE extracted_actions
		SET action_text = $3, assignee = $4, due_context = $5, priority = $6, category = $7,
			validation_score = $8, requires_review = $9, extraction_method = $10, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.OwnerID, a.ActionText, a.Assignee, a.DueContext, a.Priority, a.Category,
		a.ValidationScore, a.RequiresReview, string(a.ExtractionMethod),
	).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: действие %s нарушает ограничения схемы", ErrPrecondition, a.ID)
		}
		return fmt.Errorf("ошибка сохранения проверки действия: %w", err)
	}
	return nil
}

func (r *actionRepo) UpdateStatus(ctx context.Context, ownerID, id string, from, to model.ActionStatus, note *string) (*model.ExtractedAction, error) {
	query := `
		UPDATE extracted_actions
		SET status = $4, status_note = $5, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND status = $3
		RETURNING ` + actionColumns

	a, err := scanAction(r.db.QueryRow(ctx, query, id, ownerID, string(from), string(to), note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, ownerID, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: статус действия %s изменился", ErrPrecondition, id)
		}
		return nil, fmt.Errorf("ошибка обновления статуса действия: %w", err)
	}
	return a, nil
}

func (r *actionRepo) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM extracted_actions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка удаления действия: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
