package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// ConfirmationRepository — журнал решений по очереди проверки.
// Только добавление и чтение.
type ConfirmationRepository interface {
	// Create добавляет запись аудита.
	Create(ctx context.Context, c *model.ActionConfirmation) error
	// ListByAction возвращает решения по действию, новые первыми.
	ListByAction(ctx context.Context, ownerID, actionID string) ([]*model.ActionConfirmation, error)
}

type confirmationRepo struct {
	db DBTX
}

// NewConfirmationRepository создаёт репозиторий журнала решений.
func NewConfirmationRepository(db DBTX) ConfirmationRepository {
	return &confirmationRepo{db: db}
}

func (r *confirmationRepo) Create(ctx context.Context, c *model.ActionConfirmation) error {
	query := `
		INSERT INTO action_confirmations (id, owner_id, action_id, decision, modifications, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	var mods any
	if len(c.Modifications) > 0 {
		mods = string(c.Modifications)
	}

	err := r.db.QueryRow(ctx, query,
		c.ID, c.OwnerID, c.ActionID, string(c.Decision), mods, c.Note,
	).Scan(&c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: решение с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка записи решения: %w", err)
	}
	return nil
}

func (r *confirmationRepo) ListByAction(ctx context.Context, ownerID, actionID string) ([]*model.ActionConfirmation, error) {
	query := `
		SELECT id, owner_id, action_id, decision, modifications, note, created_at
		FROM action_confirmations
		WHERE action_id = $1 AND owner_id = $2
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, actionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения решений: %w", err)
	}
	defer rows.Close()

	result := []*model.ActionConfirmation{}
	for rows.Next() {
		c := &model.ActionConfirmation{}
		var decision string
		var mods []byte
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ActionID, &decision, &mods, &c.Note, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования решения: %w", err)
		}
		c.Decision = model.Decision(decision)
		c.Modifications = mods
		result = append(result, c)
	}
	return result, rows.Err()
}
