// meetings.go — чтение Meeting, снимок статуса и прогресс обработки.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/domain/progress"
	"github.com/bigkaa/smartact/internal/poller"
	"github.com/bigkaa/smartact/internal/repository"
)

// ProgressView — прогресс Meeting для отображения.
type ProgressView struct {
	MeetingID string
	Progress  model.ProcessingProgress
	// Outcome — итог серверного опроса (nil, пока опрос идёт или сессии нет)
	Outcome *poller.Outcome
	// Live — прогресс взят из активной или завершённой сессии опроса
	Live bool
}

// MeetingService — операции чтения Meeting.
type MeetingService struct {
	repos     repository.Repositories
	tracker   *ProgressTracker
	estimator progress.Estimator
	now       func() time.Time
}

// NewMeetingService создаёт сервис. tracker может быть nil.
func NewMeetingService(repos repository.Repositories, tracker *ProgressTracker, estimator progress.Estimator) *MeetingService {
	return &MeetingService{
		repos:     repos,
		tracker:   tracker,
		estimator: estimator,
		now:       time.Now,
	}
}

// Get возвращает Meeting владельца.
func (s *MeetingService) Get(ctx context.Context, ownerID, meetingID string) (*model.Meeting, error) {
	m, err := s.repos.Meetings.GetByID(ctx, ownerID, meetingID)
	if err != nil {
		return nil, mapRepoError(err, "Meeting "+meetingID)
	}
	return m, nil
}

// List возвращает Meeting владельца, новые первыми.
func (s *MeetingService) List(ctx context.Context, ownerID string, filters repository.MeetingListFilters, limit, offset int) ([]*model.Meeting, error) {
	items, err := s.repos.Meetings.List(ctx, ownerID, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("список Meeting: %w", err)
	}
	return items, nil
}

// Snapshot возвращает то, что читает Completion Poller на каждом тике.
// Реализует poller.StatusSource.
func (s *MeetingService) Snapshot(ctx context.Context, ownerID, meetingID string) (model.MeetingSnapshot, error) {
	snap, err := s.repos.Meetings.Snapshot(ctx, ownerID, meetingID)
	if err != nil {
		return model.MeetingSnapshot{}, mapRepoError(err, "Meeting "+meetingID)
	}
	return snap, nil
}

// Progress возвращает последний прогресс серверной сессии опроса.
// Если сессии нет (истекла или сервер перезапущен), прогресс вычисляется
// из персистентного состояния и прошедшего времени. Сессия без итога или
// с итогом timed_out уступает вычисленному прогрессу, как только Meeting
// достигла терминального статуса.
func (s *MeetingService) Progress(ctx context.Context, ownerID, meetingID string) (*ProgressView, error) {
	if s.tracker != nil {
		if sess, ok := s.tracker.Get(ownerID, meetingID); ok && !s.overtaken(ctx, ownerID, meetingID, sess) {
			return &ProgressView{
				MeetingID: meetingID,
				Progress:  sess.Progress,
				Outcome:   sess.Outcome,
				Live:      true,
			}, nil
		}
	}

	m, err := s.repos.Meetings.GetByID(ctx, ownerID, meetingID)
	if err != nil {
		return nil, mapRepoError(err, "Meeting "+meetingID)
	}
	rec, err := s.repos.Recordings.GetByID(ctx, ownerID, m.RecordingID)
	if err != nil {
		return nil, mapRepoError(err, "запись "+m.RecordingID)
	}
	snap, err := s.repos.Meetings.Snapshot(ctx, ownerID, meetingID)
	if err != nil {
		return nil, mapRepoError(err, "Meeting "+meetingID)
	}

	end := s.now()
	if m.EndedAt != nil {
		end = *m.EndedAt
	}
	elapsed := end.Sub(m.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	out, terminal := poller.FromSnapshot(meetingID, snap)
	partial := ""
	if out.Kind == poller.KindPartial {
		partial = out.Message
	}

	view := &ProgressView{
		MeetingID: meetingID,
		Progress:  s.estimator.Derive(snap, elapsed, s.estimator.EstimateTotal(rec.DurationSeconds), partial),
	}
	if terminal {
		if out.Kind == poller.KindCompleted {
			out.Message = view.Progress.Message
		}
		view.Outcome = &out
	}
	return view, nil
}

// overtaken возвращает true, если Meeting завершилась после того,
// как сессия перестала следить за ней. Ошибка чтения оставляет сессию в силе.
func (s *MeetingService) overtaken(ctx context.Context, ownerID, meetingID string, sess Session) bool {
	if sess.Outcome != nil && sess.Outcome.Kind != poller.KindTimedOut {
		return false
	}
	snap, err := s.repos.Meetings.Snapshot(ctx, ownerID, meetingID)
	if err != nil {
		return false
	}
	return snap.Status.IsTerminal()
}
