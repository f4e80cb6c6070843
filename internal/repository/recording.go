package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// RecordingRepository — доступ к таблице recordings.
type RecordingRepository interface {
	// Create сохраняет запись. Recording неизменяема, Update нет.
	Create(ctx context.Context, rec *model.Recording) error
	// GetByID возвращает запись владельца.
	GetByID(ctx context.Context, ownerID, id string) (*model.Recording, error)
}

type recordingRepo struct {
	db DBTX
}

// NewRecordingRepository создаёт репозиторий записей.
func NewRecordingRepository(db DBTX) RecordingRepository {
	return &recordingRepo{db: db}
}

func (r *recordingRepo) Create(ctx context.Context, rec *model.Recording) error {
	query := `
		INSERT INTO recordings (id, owner_id, storage_path, inline_payload, content_type,
			size_bytes, checksum, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.OwnerID, rec.StoragePath, rec.InlinePayload, rec.ContentType,
		rec.SizeBytes, rec.Checksum, rec.DurationSeconds,
	).Scan(&rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

func (r *recordingRepo) GetByID(ctx context.Context, ownerID, id string) (*model.Recording, error) {
	query := `
		SELECT id, owner_id, storage_path, inline_payload, content_type,
			size_bytes, checksum, duration_seconds, created_at
		FROM recordings
		WHERE id = $1 AND owner_id = $2`

	rec := &model.Recording{}
	err := r.db.QueryRow(ctx, query, id, ownerID).Scan(
		&rec.ID, &rec.OwnerID, &rec.StoragePath, &rec.InlinePayload, &rec.ContentType,
		&rec.SizeBytes, &rec.Checksum, &rec.DurationSeconds, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}
