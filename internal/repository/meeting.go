package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// MeetingRepository — доступ к таблице meetings.
type MeetingRepository interface {
	// Create сохраняет Meeting в статусе pending.
	Create(ctx context.Context, m *model.Meeting) error
	// GetByID возвращает Meeting владельца.
	GetByID(ctx context.Context, ownerID, id string) (*model.Meeting, error)
	// GetByIDAny возвращает Meeting без фильтра владельца (для callback сервиса извлечения).
	GetByIDAny(ctx context.Context, id string) (*model.Meeting, error)
	// List возвращает Meeting владельца, новые первыми.
	List(ctx context.Context, ownerID string, filters MeetingListFilters, limit, offset int) ([]*model.Meeting, error)
	// ClaimDispatch атомарно отмечает Meeting как отправленную в сервис извлечения.
	// Повторный вызов возвращает ErrPrecondition.
	ClaimDispatch(ctx context.Context, ownerID, id string, at time.Time) error
	// Finish переводит Meeting из pending в терминальный статус.
	// Если Meeting уже терминальна, возвращает ErrPrecondition.
	Finish(ctx context.Context, id string, upd TerminalUpdate) (*model.Meeting, error)
	// Snapshot возвращает данные для одного тика Completion Poller.
	Snapshot(ctx context.Context, ownerID, id string) (model.MeetingSnapshot, error)
}

// MeetingListFilters — фильтры списка Meeting.
type MeetingListFilters struct {
	Status   *model.ProcessingStatus
	IsActive *bool
}

// TerminalUpdate — данные перехода в терминальный статус.
type TerminalUpdate struct {
	Status     model.ProcessingStatus
	Transcript *string
	Error      *string
	ErrorCode  *model.FailureCause
	EndedAt    time.Time
}

type meetingRepo struct {
	db DBTX
}

// NewMeetingRepository создаёт репозиторий Meeting.
func NewMeetingRepository(db DBTX) MeetingRepository {
	return &meetingRepo{db: db}
}

const meetingColumns = `id, owner_id, recording_id, title, meeting_type, participants, context,
	is_active, started_at, ended_at, dispatched_at, processing_status, processing_error,
	processing_error_code, transcript, updated_at`

func scanMeeting(row scanner) (*model.Meeting, error) {
	m := &model.Meeting{}
	var status string
	var code *string
	err := row.Scan(
		&m.ID, &m.OwnerID, &m.RecordingID, &m.Title, &m.Type, &m.Participants, &m.Context,
		&m.IsActive, &m.StartedAt, &m.EndedAt, &m.DispatchedAt, &status, &m.ProcessingError,
		&code, &m.Transcript, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ProcessingStatus = model.ProcessingStatus(status)
	if code != nil {
		c := model.FailureCause(*code)
		m.ProcessingErrorCode = &c
	}
	if m.Participants == nil {
		m.Participants = []string{}
	}
	return m, nil
}

func (r *meetingRepo) Create(ctx context.Context, m *model.Meeting) error {
	query := `
		INSERT INTO meetings (id, owner_id, recording_id, title, meeting_type, participants,
			context, is_active, started_at, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, 'pending')
		RETURNING is_active, processing_status, updated_at`

	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}

	var status string
	err := r.db.QueryRow(ctx, query,
		m.ID, m.OwnerID, m.RecordingID, m.Title, m.Type, participants, m.Context, m.StartedAt,
	).Scan(&m.IsActive, &status, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: Meeting с таким ID уже существует", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: запись %s", ErrNotFound, m.RecordingID)
		}
		return fmt.Errorf("ошибка создания Meeting: %w", err)
	}
	m.ProcessingStatus = model.ProcessingStatus(status)
	m.Participants = participants
	return nil
}

func (r *meetingRepo) GetByID(ctx context.Context, ownerID, id string) (*model.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1 AND owner_id = $2`

	m, err := scanMeeting(r.db.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения Meeting: %w", err)
	}
	return m, nil
}

func (r *meetingRepo) GetByIDAny(ctx context.Context, id string) (*model.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`

	m, err := scanMeeting(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения Meeting: %w", err)
	}
	return m, nil
}

// buildMeetingWhere строит WHERE-условие для списка Meeting владельца.
func buildMeetingWhere(ownerID string, filters MeetingListFilters, startArg int) (string, []any) {
	conditions := []string{fmt.Sprintf("owner_id = $%d", startArg)}
	args := []any{ownerID}
	argNum := startArg + 1

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("processing_status = $%d", argNum))
		args = append(args, string(*filters.Status))
		argNum++
	}
	if filters.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argNum))
		args = append(args, *filters.IsActive)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *meetingRepo) List(ctx context.Context, ownerID string, filters MeetingListFilters, limit, offset int) ([]*model.Meeting, error) {
	where, args := buildMeetingWhere(ownerID, filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`SELECT %s FROM meetings %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d`, meetingColumns, where, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка Meeting: %w", err)
	}
	defer rows.Close()

	result := []*model.Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования Meeting: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *meetingRepo) ClaimDispatch(ctx context.Context, ownerID, id string, at time.Time) error {
	query := `
		UPDATE meetings
		SET dispatched_at = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
			AND dispatched_at IS NULL AND processing_status = 'pending'`

	tag, err := r.db.Exec(ctx, query, id, ownerID, at)
	if err != nil {
		return fmt.Errorf("ошибка захвата dispatch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrPrecondition(ctx, ownerID, id)
	}
	return nil
}

func (r *meetingRepo) Finish(ctx context.Context, id string, upd TerminalUpdate) (*model.Meeting, error) {
	if !upd.Status.IsTerminal() {
		return nil, fmt.Errorf("недопустимый терминальный статус %q", upd.Status)
	}

	var code *string
	if upd.ErrorCode != nil {
		s := string(*upd.ErrorCode)
		code = &s
	}

	query := `
		UPDATE meetings
		SET processing_status = $2, transcript = $3, processing_error = $4,
			processing_error_code = $5, is_active = FALSE, ended_at = $6, updated_at = NOW()
		WHERE id = $1 AND processing_status = 'pending'
		RETURNING ` + meetingColumns

	m, err := scanMeeting(r.db.QueryRow(ctx, query,
		id, string(upd.Status), upd.Transcript, upd.Error, code, upd.EndedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByIDAny(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: Meeting %s уже в терминальном статусе", ErrPrecondition, id)
		}
		return nil, fmt.Errorf("ошибка завершения Meeting: %w", err)
	}
	return m, nil
}

func (r *meetingRepo) Snapshot(ctx context.Context, ownerID, id string) (model.MeetingSnapshot, error) {
	query := `
		SELECT m.processing_status, m.processing_error, m.processing_error_code,
			COALESCE(m.transcript, '') <> '',
			(SELECT COUNT(*) FROM extracted_actions a WHERE a.meeting_id = m.id AND a.owner_id = m.owner_id)
		FROM meetings m
		WHERE m.id = $1 AND m.owner_id = $2`

	var (
		snap   model.MeetingSnapshot
		status string
		code   *string
	)
	err := r.db.QueryRow(ctx, query, id, ownerID).Scan(
		&status, &snap.Error, &code, &snap.HasTranscript, &snap.ActionsCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MeetingSnapshot{}, ErrNotFound
		}
		return model.MeetingSnapshot{}, fmt.Errorf("ошибка чтения статуса Meeting: %w", err)
	}
	snap.Status = model.ProcessingStatus(status)
	if code != nil {
		c := model.FailureCause(*code)
		snap.ErrorCode = &c
	}
	return snap, nil
}

// missingOrPrecondition различает отсутствие записи и неподходящее состояние
// после условного UPDATE, не затронувшего строк.
func (r *meetingRepo) missingOrPrecondition(ctx context.Context, ownerID, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1 AND owner_id = $2)`,
		id, ownerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка проверки Meeting: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrPrecondition
}
