// intake.go — Recording Intake и Job Dispatcher.
// Intake сохраняет Recording и создаёт Meeting в pending в одной транзакции,
// Dispatch один раз вызывает сервис извлечения; при отказе Meeting сразу
// переводится в failed, опрос не запускается.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/domain/progress"
	"github.com/bigkaa/smartact/internal/extractor"
	"github.com/bigkaa/smartact/internal/poller"
	"github.com/bigkaa/smartact/internal/repository"
	"github.com/bigkaa/smartact/internal/storage/audiostore"
)

var (
	intakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_intake_total",
		Help: "Количество принятых записей по способу передачи аудио.",
	}, []string{"source"})
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_dispatch_total",
		Help: "Результаты постановки заданий в сервис извлечения.",
	}, []string{"result"})
	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_module_dispatch_duration_seconds",
		Help:    "Длительность вызова сервиса извлечения (до подтверждения приёма).",
		Buckets: prometheus.DefBuckets,
	})
)

// Лимиты метаданных Meeting.
const (
	maxTitleLength     = 500
	maxTypeLength      = 100
	maxParticipants    = 100
	defaultMeetingType = "meeting"
)

// JobSubmitter — вызов сервиса извлечения. Реализуется *extractor.Client.
type JobSubmitter interface {
	Submit(ctx context.Context, job extractor.JobRequest) (*extractor.JobAccepted, error)
}

// AudioStore — файловое хранилище аудио. Реализуется *audiostore.Store.
type AudioStore interface {
	Save(reader io.Reader, originalFilename, ownerID string) (*audiostore.SaveResult, error)
	Stat(storagePath string) (int64, error)
	Delete(storagePath string) error
}

// IntakeRequest — входные данные Intake.
// Аудио передаётся либо потоком Audio, либо ссылкой StoragePath.
type IntakeRequest struct {
	OwnerID         string
	Title           string
	Type            string
	Participants    []string
	Context         *string
	DurationSeconds int

	Audio       io.Reader
	Filename    string
	ContentType string
	StoragePath string
}

// SubmitResult — результат Intake + Dispatch.
type SubmitResult struct {
	Handle   model.JobHandle
	Progress model.ProcessingProgress
}

// IntakeService — приём записей и постановка заданий.
type IntakeService struct {
	repos     repository.Repositories
	tx        Transactor
	store     AudioStore
	submitter JobSubmitter
	tracker   *ProgressTracker
	estimator progress.Estimator
	maxInline int64
	logger    *slog.Logger
	now       func() time.Time
}

// NewIntakeService создаёт сервис.
// store может быть nil — тогда аудио хранится inline и передаётся в base64.
// tracker может быть nil — тогда серверный опрос не запускается.
func NewIntakeService(
	repos repository.Repositories,
	tx Transactor,
	store AudioStore,
	submitter JobSubmitter,
	tracker *ProgressTracker,
	estimator progress.Estimator,
	maxInline int64,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		repos:     repos,
		tx:        tx,
		store:     store,
		submitter: submitter,
		tracker:   tracker,
		estimator: estimator,
		maxInline: maxInline,
		logger:    logger.With(slog.String("component", "intake_service")),
		now:       time.Now,
	}
}

// Submit выполняет Intake, Dispatch и запускает серверный опрос.
// Ошибка dispatch возвращается как ErrDispatch вместе с handle:
// Meeting к этому моменту уже в failed, а сессия прогресса завершена.
func (s *IntakeService) Submit(ctx context.Context, req IntakeRequest) (*SubmitResult, error) {
	handle, err := s.Intake(ctx, req)
	if err != nil {
		return nil, err
	}

	uploading := s.estimator.Uploading()
	if s.tracker != nil {
		s.tracker.Record(*handle, uploading)
	}

	if err := s.Dispatch(ctx, *handle); err != nil {
		if s.tracker != nil && errors.Is(err, ErrDispatch) {
			out := poller.DispatchFailed(handle.MeetingID, err)
			s.tracker.Finish(*handle, s.estimator.Failed(0, out.Message), out)
		}
		return &SubmitResult{Handle: *handle, Progress: uploading}, err
	}

	if s.tracker != nil {
		s.tracker.Start(*handle)
	}
	return &SubmitResult{Handle: *handle, Progress: uploading}, nil
}

// Intake сохраняет Recording и создаёт Meeting в pending.
// Возвращает управление только после фиксации транзакции.
func (s *IntakeService) Intake(ctx context.Context, req IntakeRequest) (*model.JobHandle, error) {
	if err := normalizeIntake(&req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &model.Recording{
		ID:              uuid.New().String(),
		OwnerID:         req.OwnerID,
		ContentType:     req.ContentType,
		DurationSeconds: req.DurationSeconds,
	}

	source, cleanup, err := s.attachAudio(ctx, req, rec)
	if err != nil {
		return nil, err
	}

	meeting := &model.Meeting{
		ID:           uuid.New().String(),
		OwnerID:      req.OwnerID,
		RecordingID:  rec.ID,
		Title:        req.Title,
		Type:         req.Type,
		Participants: req.Participants,
		Context:      req.Context,
		StartedAt:    now,
	}

	err = s.tx.InTx(ctx, func(r repository.Repositories) error {
		if err := r.Recordings.Create(ctx, rec); err != nil {
			return mapRepoError(err, "сохранение записи")
		}
		if err := r.Meetings.Create(ctx, meeting); err != nil {
			return mapRepoError(err, "создание Meeting")
		}
		return nil
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	intakeTotal.WithLabelValues(source).Inc()
	s.logger.Info("Запись принята",
		slog.String("meeting_id", meeting.ID),
		slog.String("recording_id", rec.ID),
		slog.String("owner_id", req.OwnerID),
		slog.String("source", source),
		slog.Int64("size_bytes", rec.SizeBytes),
	)

	return &model.JobHandle{
		MeetingID:      meeting.ID,
		RecordingID:    rec.ID,
		OwnerID:        req.OwnerID,
		EstimatedTotal: s.estimator.EstimateTotal(req.DurationSeconds),
		StartedAt:      now,
	}, nil
}

// attachAudio заполняет источник аудио Recording.
// Возвращает метку источника для метрик и функцию отката сохранённого файла.
func (s *IntakeService) attachAudio(_ context.Context, req IntakeRequest, rec *model.Recording) (string, func(), error) {
	noop := func() {}

	if req.StoragePath != "" {
		if s.store != nil {
			size, err := s.store.Stat(req.StoragePath)
			if err != nil {
				if errors.Is(err, audiostore.ErrNotFound) || errors.Is(err, audiostore.ErrInvalidPath) {
					return "", noop, fmt.Errorf("%w: storage_path: %v", ErrValidation, err)
				}
				return "", noop, fmt.Errorf("проверка storage_path: %w", err)
			}
			rec.SizeBytes = size
		}
		path := req.StoragePath
		rec.StoragePath = &path
		return "reference", noop, nil
	}

	if s.store != nil {
		res, err := s.store.Save(req.Audio, req.Filename, req.OwnerID)
		if err != nil {
			if errors.Is(err, audiostore.ErrTooLarge) {
				return "", noop, fmt.Errorf("%w: %v", ErrValidation, err)
			}
			return "", noop, fmt.Errorf("сохранение аудио: %w", err)
		}
		if res.Size == 0 {
			_ = s.store.Delete(res.StoragePath)
			return "", noop, fmt.Errorf("%w: пустой файл аудио", ErrValidation)
		}
		path := res.StoragePath
		rec.StoragePath = &path
		rec.SizeBytes = res.Size
		rec.Checksum = res.Checksum
		cleanup := func() {
			if err := s.store.Delete(path); err != nil {
				s.logger.Warn("Не удалось удалить файл после отката",
					slog.String("storage_path", path),
					slog.String("error", err.Error()),
				)
			}
		}
		return "upload", cleanup, nil
	}

	var buf bytes.Buffer
	limit := s.maxInline
	src := req.Audio
	if limit > 0 {
		src = io.LimitReader(req.Audio, limit+1)
	}
	n, err := io.Copy(&buf, src)
	if err != nil {
		return "", noop, fmt.Errorf("чтение аудио: %w", err)
	}
	if limit > 0 && n > limit {
		return "", noop, fmt.Errorf("%w: размер записи превышает %d байт", ErrValidation, limit)
	}
	if n == 0 {
		return "", noop, fmt.Errorf("%w: пустой файл аудио", ErrValidation)
	}
	rec.InlinePayload = buf.Bytes()
	rec.SizeBytes = n
	return "inline", noop, nil
}

// Dispatch один раз отправляет задание в сервис извлечения.
// Повторный вызов для той же Meeting возвращает ErrAlreadyDispatched.
// Любая другая ошибка переводит Meeting в failed и возвращается как ErrDispatch.
func (s *IntakeService) Dispatch(ctx context.Context, handle model.JobHandle) error {
	job, err := s.claimJob(ctx, handle)
	if err == nil {
		start := time.Now()
		_, err = s.submitter.Submit(ctx, job)
		dispatchDuration.Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		dispatchTotal.WithLabelValues("accepted").Inc()
		return nil
	case errors.Is(err, ErrAlreadyDispatched):
		dispatchTotal.WithLabelValues("duplicate").Inc()
		return err
	}

	dispatchTotal.WithLabelValues("failed").Inc()
	s.markDispatchFailed(handle, err)
	return fmt.Errorf("%w: %w", ErrDispatch, err) //nolint:errorlint // намеренный двойной wrap
}

// claimJob читает Meeting и Recording, захватывает dispatch и собирает задание.
func (s *IntakeService) claimJob(ctx context.Context, handle model.JobHandle) (extractor.JobRequest, error) {
	meeting, err := s.repos.Meetings.GetByID(ctx, handle.OwnerID, handle.MeetingID)
	if err != nil {
		return extractor.JobRequest{}, mapRepoError(err, "Meeting "+handle.MeetingID)
	}
	rec, err := s.repos.Recordings.GetByID(ctx, handle.OwnerID, meeting.RecordingID)
	if err != nil {
		return extractor.JobRequest{}, mapRepoError(err, "запись "+meeting.RecordingID)
	}

	if err := s.repos.Meetings.ClaimDispatch(ctx, handle.OwnerID, handle.MeetingID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrPrecondition) {
			return extractor.JobRequest{}, fmt.Errorf("%w: Meeting %s", ErrAlreadyDispatched, handle.MeetingID)
		}
		return extractor.JobRequest{}, mapRepoError(err, "захват dispatch")
	}

	job := extractor.JobRequest{
		MeetingID:       meeting.ID,
		UserID:          meeting.OwnerID,
		ContentType:     rec.ContentType,
		DurationSeconds: rec.DurationSeconds,
		Metadata: extractor.JobMetadata{
			Title:        meeting.Title,
			Type:         meeting.Type,
			Participants: meeting.Participants,
			Context:      meeting.Context,
			RecordingID:  rec.ID,
		},
	}
	if rec.HasReference() {
		job.StoragePath = *rec.StoragePath
	} else {
		job.AudioBase64 = extractor.EncodeInline(rec.InlinePayload)
	}
	return job, nil
}

// markDispatchFailed переводит Meeting в failed с текстом ошибки dispatch.
// Выполняется с отдельным контекстом: отмена запроса не должна оставить Meeting в pending.
func (s *IntakeService) markDispatchFailed(handle model.JobHandle, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := "dispatch failed: " + cause.Error()
	code := poller.DispatchFailed(handle.MeetingID, cause).Cause
	_, err := s.repos.Meetings.Finish(ctx, handle.MeetingID, repository.TerminalUpdate{
		Status:    model.StatusFailed,
		Error:     &msg,
		ErrorCode: &code,
		EndedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("Не удалось перевести Meeting в failed после ошибки dispatch",
			slog.String("meeting_id", handle.MeetingID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("Сервис извлечения не принял задание",
		slog.String("meeting_id", handle.MeetingID),
		slog.String("owner_id", handle.OwnerID),
		slog.String("error", cause.Error()),
	)
}

// normalizeIntake проверяет и нормализует входные данные.
func normalizeIntake(req *IntakeRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("%w: не определён владелец", ErrValidation)
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return fmt.Errorf("%w: title обязателен", ErrValidation)
	}
	if len(req.Title) > maxTitleLength {
		return fmt.Errorf("%w: title длиннее %d символов", ErrValidation, maxTitleLength)
	}

	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		req.Type = defaultMeetingType
	}
	if len(req.Type) > maxTypeLength {
		return fmt.Errorf("%w: type длиннее %d символов", ErrValidation, maxTypeLength)
	}

	participants := make([]string, 0, len(req.Participants))
	for _, p := range req.Participants {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}
	if len(participants) > maxParticipants {
		return fmt.Errorf("%w: участников больше %d", ErrValidation, maxParticipants)
	}
	req.Participants = participants

	if req.Context != nil {
		trimmed := strings.TrimSpace(*req.Context)
		if trimmed == "" {
			req.Context = nil
		} else {
			req.Context = &trimmed
		}
	}

	if req.DurationSeconds < 0 {
		return fmt.Errorf("%w: duration_seconds не может быть отрицательным", ErrValidation)
	}

	req.StoragePath = strings.TrimSpace(req.StoragePath)
	hasStream := req.Audio != nil
	hasRef := req.StoragePath != ""
	if hasStream == hasRef {
		return fmt.Errorf("%w: требуется ровно один из file и storage_path", ErrValidation)
	}

	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}
	return nil
}
